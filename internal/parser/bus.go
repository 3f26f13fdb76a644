package parser

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/codegraph-io/codegraph/pkg/natsutil"
)

// FileEventSubject is the NATS subject file watchers publish change
// notifications to and the parser's bus subscribes on.
const FileEventSubject = "codegraph.parser.file_changed"

// EventBus carries FileEvent notifications over an embedded or external
// NATS connection, so a file watcher running in a different process (or
// goroutine) than the parsing pipeline can still drive it.
type EventBus struct {
	nc *nats.Conn
}

// NewEventBus wraps an established NATS connection.
func NewEventBus(nc *nats.Conn) *EventBus {
	return &EventBus{nc: nc}
}

// Publish announces a file change.
func (b *EventBus) Publish(ctx context.Context, event FileEvent) error {
	return natsutil.Publish(ctx, b.nc, FileEventSubject, event)
}

// Subscribe feeds every published FileEvent to handler, debouncing
// through d before handler ever runs.
func (b *EventBus) Subscribe(d *Debouncer, onResult func(Result, error)) (*nats.Subscription, error) {
	return natsutil.Subscribe(b.nc, FileEventSubject, func(ctx context.Context, event FileEvent) {
		d.Submit(ctx, event, onResult)
	})
}
