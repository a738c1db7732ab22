// Package tenant holds the fixed set of companies the service serves and
// resolves them by id or API key. The set is seeded at process start and
// never changes afterwards, so lookups need no locking.
package tenant

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deskline/support-chat/internal/apperror"
)

// Company is a tenant of the support desk.
type Company struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	APIKey string `json:"-" yaml:"api_key"`
}

// Directory resolves companies. It is immutable after construction.
type Directory struct {
	companies []Company
	byID      map[string]int
	byAPIKey  map[string]int
}

// NewDirectory builds a Directory from the given companies, preserving
// their order. Empty or duplicate ids and API keys are rejected.
func NewDirectory(companies ...Company) (*Directory, error) {
	d := &Directory{
		companies: make([]Company, 0, len(companies)),
		byID:      make(map[string]int, len(companies)),
		byAPIKey:  make(map[string]int, len(companies)),
	}
	for _, c := range companies {
		if c.ID == "" {
			return nil, fmt.Errorf("tenant: company with empty id")
		}
		if c.APIKey == "" {
			return nil, fmt.Errorf("tenant: company %q has no api key", c.ID)
		}
		if _, dup := d.byID[c.ID]; dup {
			return nil, fmt.Errorf("tenant: duplicate company id %q", c.ID)
		}
		if _, dup := d.byAPIKey[c.APIKey]; dup {
			return nil, fmt.Errorf("tenant: duplicate api key for company %q", c.ID)
		}
		d.byID[c.ID] = len(d.companies)
		d.byAPIKey[c.APIKey] = len(d.companies)
		d.companies = append(d.companies, c)
	}
	return d, nil
}

// ByID returns the company with the given id.
func (d *Directory) ByID(companyID string) (Company, error) {
	i, ok := d.byID[companyID]
	if !ok {
		return Company{}, apperror.UnknownCompany(companyID)
	}
	return d.companies[i], nil
}

// ByAPIKey returns the company owning the given API key.
func (d *Directory) ByAPIKey(apiKey string) (Company, error) {
	i, ok := d.byAPIKey[apiKey]
	if !ok {
		return Company{}, apperror.New(apperror.KindUnknownCompany, "company not found")
	}
	return d.companies[i], nil
}

// Exists reports whether companyID is a known tenant.
func (d *Directory) Exists(companyID string) bool {
	_, ok := d.byID[companyID]
	return ok
}

// All returns the companies in seed order. The slice is a copy.
func (d *Directory) All() []Company {
	out := make([]Company, len(d.companies))
	copy(out, d.companies)
	return out
}

// DefaultCompanies is the built-in seed used when no tenants file is
// configured.
func DefaultCompanies() []Company {
	return []Company{
		{ID: "company-1", Name: "Empresa Demo 1", APIKey: "demo-key-company-1"},
		{ID: "company-2", Name: "Empresa Demo 2", APIKey: "demo-key-company-2"},
	}
}

type seedFile struct {
	Companies []Company `yaml:"companies"`
}

// LoadFile reads a YAML seed of the form
//
//	companies:
//	  - id: company-1
//	    name: Acme
//	    api_key: secret
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read %s: %w", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("tenant: parse %s: %w", path, err)
	}
	if len(seed.Companies) == 0 {
		return nil, fmt.Errorf("tenant: %s declares no companies", path)
	}
	return NewDirectory(seed.Companies...)
}
