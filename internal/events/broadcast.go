package events

import (
	"context"
	"encoding/json"
)

// Broadcaster pushes raw messages to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// BroadcastPublisher forwards events to a live-feed broadcaster (the
// websocket hub behind the admin dashboard).
type BroadcastPublisher struct {
	broadcaster Broadcaster
}

// NewBroadcastPublisher constructs a publisher over the broadcaster.
func NewBroadcastPublisher(b Broadcaster) *BroadcastPublisher {
	return &BroadcastPublisher{broadcaster: b}
}

func (p *BroadcastPublisher) Publish(ctx context.Context, event Event) error {
	if p.broadcaster == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.broadcaster.Broadcast(data)
	return nil
}
