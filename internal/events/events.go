// Package events publishes domain events to NATS so other services can follow
// knowledge as it grows.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event subjects, relative to the configured prefix.
const (
	LeafDropped    = "leaf.dropped"
	FruitMatured   = "fruit.matured"
	FruitApproved  = "fruit.approved"
	BountyClaimed  = "bounty.claimed"
	CommentCreated = "comment.created"
	MessageSent    = "message.sent"
)

// Envelope wraps every published payload.
type Envelope struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Publisher emits domain events. Publishing is best-effort and never blocks a request
// on the broker.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// NATSPublisher publishes JSON envelopes on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
	now    func() time.Time
	once   sync.Once
}

// Connect dials url and returns a publisher that prefixes subjects with prefix.
func Connect(url, prefix string, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("antfarm"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSPublisher(nc, prefix, log), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, log *zap.Logger) *NATSPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, log: log, now: time.Now}
}

// Subject returns the full subject for eventType.
func (p *NATSPublisher) Subject(eventType string) string {
	return subject(p.prefix, eventType)
}

func subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, eventType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{Type: eventType, At: p.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := p.nc.Publish(p.Subject(eventType), body); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	var err error
	p.once.Do(func() {
		err = p.nc.Drain()
	})
	return err
}

// Emit publishes through p and logs failures instead of returning them.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, eventType string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, eventType, data); err != nil && log != nil {
		log.Warn("publish event failed", zap.String("type", eventType), zap.Error(err))
	}
}
