package events

import (
	"context"
	"sync"
)

// LocalPublisher keeps a bounded in-memory ring of recent events. It
// serves tests and the single-process fallback mode.
type LocalPublisher struct {
	mu     sync.Mutex
	events []Event
	max    int
}

// NewLocalPublisher constructs a LocalPublisher retaining at most max
// events (oldest dropped).
func NewLocalPublisher(max int) *LocalPublisher {
	if max <= 0 {
		max = 256
	}
	return &LocalPublisher{max: max}
}

func (p *LocalPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if len(p.events) > p.max {
		p.events = p.events[len(p.events)-p.max:]
	}
	return nil
}

// Events returns a copy of the retained events.
func (p *LocalPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
