package forward

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akhenakh/loragw/metrics"
	"github.com/akhenakh/loragw/storage"
)

type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// NATS publishes frames on gateway.<gateway id>.rx
type NATS struct {
	conn natsPublisher
}

func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{conn: nc}
}

// ConnectNATS connects to url, reconnecting forever.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Subject returns the NATS subject used for gatewayID
func Subject(gatewayID string) string {
	return fmt.Sprintf("gateway.%s.rx", gatewayID)
}

func (n *NATS) Forward(ctx context.Context, f storage.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := NewMessage(f).Marshal()
	if err != nil {
		return err
	}
	return n.conn.Publish(Subject(f.GatewayID), b)
}

func (n *NATS) Via() string { return metrics.ForwardedViaNATS }
