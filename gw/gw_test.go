package gw

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/loragw/storage"
)

func TestParsePacket(t *testing.T) {
	p := []byte{2, 'A', 'B', PushData, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0xDE, 0xAD, 0xBE}
	p = append(p, []byte(`{"rxpk":[]}`)...)

	pkt, err := ParsePacket(p)
	require.NoError(t, err)
	require.Equal(t, [2]byte{'A', 'B'}, pkt.Token)
	require.Equal(t, "deadbeef00deadbe", pkt.GatewayIDString())
	require.Equal(t, []byte(`{"rxpk":[]}`), pkt.Payload)

	ack := Ack(pkt)
	require.Equal(t, []byte{2, 'A', 'B', PushAck}, ack)

	pull := []byte{1, 0x01, 0x02, PullData, 1, 2, 3, 4, 5, 6, 7, 8}
	pkt, err = ParsePacket(pull)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0x01, 0x02, PullAck}, Ack(pkt))
}

func TestParsePacketErrors(t *testing.T) {
	tests := []struct {
		name string
		p    []byte
		err  error
	}{
		{"empty", nil, ErrPacketTooShort},
		{"short header", []byte{2, 0, 0}, ErrPacketTooShort},
		{"ascii version", []byte{'2', 'A', 'B', PushData, 0, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidProtocolVersion},
		{"tx ack", []byte{2, 0, 0, TxAck, 0, 0, 0, 0, 0, 0, 0, 0}, ErrUnsupportedPacketType},
		{"no gateway id", []byte{2, 0, 0, PushData, 0, 0}, ErrPacketTooShort},
		{"pull with payload", []byte{2, 0, 0, PullData, 0, 0, 0, 0, 0, 0, 0, 0, '{', '}'}, ErrUnexpectedPacketPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePacket(tc.p)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

type memStore struct {
	sync.Mutex
	frames []storage.Frame
	err    error
}

func (m *memStore) Store(f storage.Frame) error {
	m.Lock()
	defer m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, f)
	return nil
}

func (m *memStore) StoreTx(tx storage.Tx, f storage.Frame) error { return m.Store(f) }

func (m *memStore) Get(gatewayID string) (*storage.Frame, error) { return nil, nil }

func (m *memStore) GetAll(gatewayID string, count int) ([]storage.Frame, error) {
	return nil, nil
}

func (m *memStore) Keys() ([]string, error) { return nil, nil }

func (m *memStore) Begin() storage.Tx { return nil }

func (m *memStore) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.frames)
}

type memForwarder struct {
	sync.Mutex
	frames []storage.Frame
	err    error
}

func (m *memForwarder) Forward(ctx context.Context, f storage.Frame) error {
	m.Lock()
	defer m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, f)
	return nil
}

func (m *memForwarder) Via() string { return "mem" }

func TestHandlePushData(t *testing.T) {
	db := &memStore{}
	fwd := &memForwarder{}
	s := NewServer("test", log.NewNopLogger(), db, fwd)
	now := time.Date(2019, 11, 27, 16, 21, 17, 0, time.UTC)
	s.now = func() time.Time { return now }

	// the FSK entry is skipped, the others still go through
	n, err := s.HandlePushData(context.Background(), "deadbeef00deadbe", []byte(raw))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, db.frames, 2)
	require.Len(t, fwd.frames, 2)
	require.Equal(t, "deadbeef00deadbe", db.frames[0].GatewayID)
	require.True(t, now.Equal(db.frames[0].ReceivedAt))
	require.Equal(t, db.frames[0].ID, fwd.frames[0].ID)
	require.NotEqual(t, db.frames[0].ID, db.frames[1].ID)

	// stat only
	n, err = s.HandlePushData(context.Background(), "deadbeef00deadbe", []byte(`{"stat":{}}`))
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s.HandlePushData(context.Background(), "deadbeef00deadbe", []byte(`not json`))
	require.Error(t, err)

	// a failing store or forwarder doesn't stop processing
	db.err = errors.New("disk full")
	fwd.err = errors.New("broker down")
	n, err = s.HandlePushData(context.Background(), "deadbeef00deadbe", []byte(raw))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestServerListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := &memStore{}
	s := NewServer("test", log.NewNopLogger(), db)
	err := s.StartListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	p := []byte{2, 0x12, 0x34, PushData, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0xDE, 0xAD, 0xBE}
	p = append(p, []byte(raw)...)
	_, err = conn.Write(p)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	ack := make([]byte, 16)
	n, err := conn.Read(ack)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0x12, 0x34, PushAck}, ack[:n])

	require.Eventually(t, func() bool { return db.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	// invalid packets are not acked and don't stop the listener
	_, err = conn.Write([]byte{9, 9})
	require.NoError(t, err)

	_, err = conn.Write([]byte{2, 0x56, 0x78, PullData, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0xDE, 0xAD, 0xBE})
	require.NoError(t, err)
	n, err = conn.Read(ack)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0x56, 0x78, PullAck}, ack[:n])
}

func TestServerAddrWhileStarting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("test", log.NewNopLogger(), &memStore{})
	require.Nil(t, s.LocalAddr())
	// closing before listening is a no-op
	s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.LocalAddr()
		}
	}()

	require.NoError(t, s.StartListener(ctx, "127.0.0.1:0"))
	wg.Wait()

	require.NotNil(t, s.LocalAddr())
	s.Close()
}
