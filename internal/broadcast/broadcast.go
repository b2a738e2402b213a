// Package broadcast pushes order field changes to the live dashboards.
// Delivery is fire-and-forget: publish errors are returned for logging only.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"
)

type Event struct {
	OrderID string      `json:"id"`
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	At      time.Time   `json:"at"`
}

type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}

// Send publishes a single field change and logs a failed publish.
func Send(ctx context.Context, b Broadcaster, orderID, field string, value interface{}) {
	if b == nil {
		return
	}
	ev := Event{OrderID: orderID, Field: field, Value: value, At: time.Now()}
	if err := b.Publish(ctx, ev); err != nil {
		log.Printf("[broadcast] %s %s: %v", orderID, field, err)
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
