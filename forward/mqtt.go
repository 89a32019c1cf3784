package forward

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/akhenakh/loragw/metrics"
	"github.com/akhenakh/loragw/storage"
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes frames on <prefix>/gateway/<gateway id>/rx
type MQTT struct {
	client  mqttPublisher
	prefix  string
	qos     byte
	timeout time.Duration
}

func NewMQTT(c mqtt.Client, prefix string, qos byte) *MQTT {
	return &MQTT{
		client:  c,
		prefix:  prefix,
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

// ConnectMQTT connects to broker, eg tcp://localhost:1883
func ConnectMQTT(broker, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetCleanSession(true)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return c, nil
}

// Topic returns the topic used for gatewayID
func (m *MQTT) Topic(gatewayID string) string {
	if m.prefix == "" {
		return fmt.Sprintf("gateway/%s/rx", gatewayID)
	}
	return fmt.Sprintf("%s/gateway/%s/rx", m.prefix, gatewayID)
}

func (m *MQTT) Forward(ctx context.Context, f storage.Frame) error {
	b, err := NewMessage(f).Marshal()
	if err != nil {
		return err
	}

	token := m.client.Publish(m.Topic(f.GatewayID), m.qos, false, b)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Via() string { return metrics.ForwardedViaMQTT }
