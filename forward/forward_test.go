package forward

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/loragw/rxpk"
	"github.com/akhenakh/loragw/storage"
)

func frame(t *testing.T) storage.Frame {
	r, err := rxpk.DecodeJSON([]byte(`{"chan":2,"rfch":0,"freq":868.1,"stat":1,"modu":"LORA","datr":"SF7BW125","codr":"4/5","rssi":-35,"lsnr":5.2,"size":5,"data":"RkFLRQo"}`))
	require.NoError(t, err)
	return storage.NewFrame("0102030405060708", r, time.Date(2019, 11, 27, 16, 21, 17, 0, time.UTC))
}

type fakeNATS struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	f.subject = subj
	f.data = data
	return f.err
}

func TestMessage(t *testing.T) {
	f := frame(t)
	b, err := NewMessage(f).Marshal()
	require.NoError(t, err)

	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, f.ID.String(), m.ID)
	require.Equal(t, f.GatewayID, m.GatewayID)
	require.True(t, f.ReceivedAt.Equal(m.ReceivedAt))
	require.True(t, f.Record.Equal(m.Rxpk))
}

func TestNATSForward(t *testing.T) {
	fn := &fakeNATS{}
	n := &NATS{conn: fn}
	f := frame(t)

	err := n.Forward(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, "gateway.0102030405060708.rx", fn.subject)

	var m Message
	require.NoError(t, json.Unmarshal(fn.data, &m))
	require.Equal(t, f.ID.String(), m.ID)

	fn.err = errors.New("nats: connection closed")
	require.Error(t, n.Forward(context.Background(), f))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.Forward(ctx, f), context.Canceled)
	require.Equal(t, "nats", n.Via())
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, completed bool) *fakeToken {
	tk := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(tk.done)
	}
	return tk
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type fakeMQTT struct {
	topic   string
	qos     byte
	payload interface{}
	token   *fakeToken
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.qos = qos
	f.payload = payload
	return f.token
}

func TestMQTTForward(t *testing.T) {
	fm := &fakeMQTT{token: newFakeToken(nil, true)}
	m := &MQTT{client: fm, prefix: "loragw", qos: 1, timeout: time.Second}
	f := frame(t)

	err := m.Forward(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, "loragw/gateway/0102030405060708/rx", fm.topic)
	require.Equal(t, byte(1), fm.qos)

	var msg Message
	require.NoError(t, json.Unmarshal(fm.payload.([]byte), &msg))
	require.True(t, f.Record.Equal(msg.Rxpk))

	fm.token = newFakeToken(errors.New("not connected"), true)
	require.EqualError(t, m.Forward(context.Background(), f), "not connected")

	fm.token = newFakeToken(nil, false)
	m.timeout = 10 * time.Millisecond
	require.ErrorIs(t, m.Forward(context.Background(), f), ErrPublishTimeout)

	require.Equal(t, "mqtt", m.Via())
}

func TestMQTTTopic(t *testing.T) {
	m := &MQTT{}
	require.Equal(t, "gateway/aa/rx", m.Topic("aa"))
}
