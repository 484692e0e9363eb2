package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes build events to NATS for CI consumers. Publishing is
// fire-and-forget: a broker outage degrades observability, not the build.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// NewNATSSink connects to the broker. prefix defaults to "isoforge".
func NewNATSSink(url, prefix string, log *slog.Logger) (*NATSSink, error) {
	if prefix == "" {
		prefix = "isoforge"
	}
	conn, err := nats.Connect(url, nats.Name("isoforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	return &NATSSink{conn: conn, prefix: prefix, log: log}, nil
}

// Handler returns a bus handler publishing each event as JSON on
// <prefix>.<event name>.
func (s *NATSSink) Handler() Handler {
	return func(e Event) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.Name(), err)
		}
		subject := s.prefix + "." + e.Name()
		if err := s.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil && s.log != nil {
		s.log.Warn("NATS drain failed", "error", err)
	}
}
