package session

import "sync"

// Role is the side of the conversation a connection speaks for.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// Connection is one live transport session's current room membership.
type Connection struct {
	ID          string
	CompanyID   string
	TicketID    string
	Role        Role
	DisplayName string
}

// Registry maps connection ids to their room membership with secondary
// indexes by ticket and by company. It is goroutine-safe.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Connection
	byTicket  map[string]map[string]struct{} // ticket id -> connection ids
	byCompany map[string]map[string]struct{} // company id -> connection ids
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Connection),
		byTicket:  make(map[string]map[string]struct{}),
		byCompany: make(map[string]map[string]struct{}),
	}
}

// Register records conn, replacing any previous registration of the same
// connection id.
func (r *Registry) Register(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[conn.ID]; ok {
		r.unindex(prev)
	}
	r.byID[conn.ID] = conn
	addMember(r.byTicket, conn.TicketID, conn.ID)
	addMember(r.byCompany, conn.CompanyID, conn.ID)
}

// Lookup returns the registration for id.
func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.RLock()
	conn, ok := r.byID[id]
	r.mu.RUnlock()
	return conn, ok
}

// Unregister removes id and returns the registration it had. Removing an
// unknown id is a no-op.
func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.byID, id)
	r.unindex(conn)
	return conn, true
}

// MembersOfTicket returns the ids of connections in the ticket's room, in
// no particular order.
func (r *Registry) MembersOfTicket(ticketID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return members(r.byTicket[ticketID])
}

// MembersOfCompany returns the ids of connections associated with any of
// the company's tickets, in no particular order.
func (r *Registry) MembersOfCompany(companyID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return members(r.byCompany[companyID])
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// RoomCount returns the number of tickets with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	n := len(r.byTicket)
	r.mu.RUnlock()
	return n
}

// unindex must be called with mu held.
func (r *Registry) unindex(conn Connection) {
	removeMember(r.byTicket, conn.TicketID, conn.ID)
	removeMember(r.byCompany, conn.CompanyID, conn.ID)
}

func addMember(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeMember(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
