// Package events publishes room and run lifecycle notifications to NATS
// subjects for external observers. The tap is optional: a nil *Tap is a
// no-op, and publish failures are logged, never surfaced to users.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Options configures the tap connection.
type Options struct {
	URL           string
	User          string
	Password      string
	SubjectPrefix string
}

type Tap struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS. An empty URL returns (nil, nil): tap disabled.
func Connect(opts Options, logger *slog.Logger) (*Tap, error) {
	if opts.URL == "" {
		return nil, nil
	}
	natsOpts := []nats.Option{nats.Name("coderoom")}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}
	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = "coderoom"
	}
	return &Tap{conn: conn, prefix: prefix, logger: logger}, nil
}

func (t *Tap) Close() {
	if t == nil || t.conn == nil {
		return
	}
	t.conn.Drain()
	t.conn.Close()
}

// RoomEvent publishes a membership or moderation notification for a room.
func (t *Tap) RoomEvent(roomID, kind string, fields map[string]any) {
	if t == nil {
		return
	}
	t.publish(t.prefix+".room."+roomID+"."+kind, fields)
}

// RunEvent publishes a run lifecycle notification.
func (t *Tap) RunEvent(runID, kind string, fields map[string]any) {
	if t == nil {
		return
	}
	t.publish(t.prefix+".run."+runID+"."+kind, fields)
}

func (t *Tap) publish(subject string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["at"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(fields)
	if err != nil {
		t.logger.Warn("event encode", "subject", subject, "err", err)
		return
	}
	if err := t.conn.Publish(subject, data); err != nil {
		t.logger.Warn("event publish", "subject", subject, "err", err)
	}
}
