// Package messaging publishes ticket events to NATS so that processes outside
// the broker (auditing, notifications) can follow support activity, and lets
// those processes subscribe to them.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/chat"
)

// SubjectRoot prefixes every ticket event subject:
// support.<company_id>.ticket.<ticket_id>.
const SubjectRoot = "support"

// TicketSubject returns the subject a ticket's events are published on.
func TicketSubject(companyID, ticketID string) string {
	return SubjectRoot + "." + token(companyID) + ".ticket." + token(ticketID)
}

// CompanySubject returns the wildcard subject matching every ticket of a
// company, or of all companies when companyID is empty.
func CompanySubject(companyID string) string {
	if companyID == "" {
		return SubjectRoot + ".>"
	}
	return SubjectRoot + "." + token(companyID) + ".ticket.*"
}

// token makes s safe as a single subject token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "supportd",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishTicketEvent publishes ev on its ticket subject. It satisfies the
// broker's event publisher.
func (c *NATSClient) PublishTicketEvent(ctx context.Context, ev chat.TicketEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal ticket event: %w", err)
	}
	return c.Publish(TicketSubject(ev.CompanyID, ev.TicketID), data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeTicketEvents delivers decoded ticket events of one company, or of
// every company when companyID is empty. Undecodable payloads are logged and
// skipped.
func (c *NATSClient) SubscribeTicketEvents(companyID string, handler func(subject string, ev chat.TicketEvent)) error {
	return c.Subscribe(CompanySubject(companyID), func(msg *nats.Msg) {
		var ev chat.TicketEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("bad ticket event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(msg.Subject, ev)
	})
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", zap.Error(err))
	}
}
