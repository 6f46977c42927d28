package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Envelope is the wire format forwarded to NATS.
type Envelope struct {
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps an event for forwarding.
func NewEnvelope(e Event) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", e.EventType(), err)
	}
	return Envelope{
		Type:      e.EventType(),
		TaskID:    e.TaskID(),
		Payload:   payload,
		Timestamp: time.Now(),
	}, nil
}

// natsPublisher is the subset of *nats.Conn the forwarder uses.
type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSForwarder relays bus events to NATS subjects for out-of-process listeners.
type NATSForwarder struct {
	conn   natsPublisher
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials the server and returns a forwarder plus a close function.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSForwarder, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("taskforce"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return NewNATSForwarder(nc, prefix, logger), closeFn, nil
}

// NewNATSForwarder creates a forwarder over an existing connection.
func NewNATSForwarder(conn natsPublisher, prefix string, logger *slog.Logger) *NATSForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "taskforce"
	}
	return &NATSForwarder{conn: conn, prefix: prefix, logger: logger}
}

// Subject maps an event type to a NATS subject, e.g. "taskforce.task.status".
func (f *NATSForwarder) Subject(e Event) string {
	return f.prefix + "." + strings.ReplaceAll(e.EventType(), ":", ".")
}

// Run forwards events until ctx is done or the channel closes.
func (f *NATSForwarder) Run(ctx context.Context, sub <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := f.Forward(e); err != nil {
				f.logger.Warn("Failed to forward event", "type", e.EventType(), "task_id", e.TaskID(), "error", err)
			}
		}
	}
}

// Forward publishes a single event.
func (f *NATSForwarder) Forward(e Event) error {
	env, err := NewEnvelope(e)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := f.Subject(e)
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
