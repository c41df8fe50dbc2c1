// Package events publishes attendance workflow transitions to NATS so
// operational dashboards can observe field activity without polling the
// attendance backend. Publishing is optional and strictly best-effort: a nil
// publisher is a no-op and publish failures never affect the workflow.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// TransitionEvent is the payload published for each workflow state change.
type TransitionEvent struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	AttendanceID string    `json:"attendance_id,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher publishes transition events to NATS.
type Publisher struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithSubjectPrefix overrides the subject prefix (default "fieldcheck").
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.subjectPrefix = prefix
	}
}

// Connect dials NATS and returns a publisher. An empty URL returns a nil
// publisher, which disables publishing.
func Connect(url string, opts ...Option) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("fieldcheck"),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return NewPublisher(conn, opts...), nil
}

// NewPublisher wraps an existing NATS connection.
func NewPublisher(conn *nats.Conn, opts ...Option) *Publisher {
	p := &Publisher{
		conn:          conn,
		subjectPrefix: "fieldcheck",
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish emits a transition event. Failures are logged, never returned:
// observability must not interfere with attendance submission.
func (p *Publisher) Publish(event TransitionEvent) {
	if p == nil || p.conn == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("Failed to marshal transition event", "event_id", event.EventID, "error", err)
		return
	}

	subject := p.subject(event.Kind)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("Failed to publish transition event",
			"subject", subject,
			"event_id", event.EventID,
			"error", err)
	}
}

// Close drains the underlying connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("Failed to drain NATS connection", "error", err)
	}
}

// subject builds "{prefix}.attendance.{kind}" with kind normalized to a
// token ("check-in" -> "check_in").
func (p *Publisher) subject(kind string) string {
	token := strings.ReplaceAll(kind, "-", "_")
	if token == "" {
		token = "unknown"
	}
	return p.subjectPrefix + ".attendance." + token
}
