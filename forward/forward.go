// Package forward publishes received frames to message brokers.
package forward

import (
	"context"
	"encoding/json"
	"time"

	"github.com/akhenakh/loragw/rxpk"
	"github.com/akhenakh/loragw/storage"
)

// Forwarder sends a frame to a downstream consumer.
type Forwarder interface {
	Forward(ctx context.Context, f storage.Frame) error
	// Via names the transport, used as metrics label
	Via() string
}

// Message is the JSON document published for every frame.
type Message struct {
	ID         string      `json:"id"`
	GatewayID  string      `json:"gateway_id"`
	ReceivedAt time.Time   `json:"received_at"`
	Rxpk       rxpk.Record `json:"rxpk"`
}

func NewMessage(f storage.Frame) Message {
	return Message{
		ID:         f.ID.String(),
		GatewayID:  f.GatewayID,
		ReceivedAt: f.ReceivedAt,
		Rxpk:       f.Record,
	}
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
