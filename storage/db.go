package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/akhenakh/loragw/rxpk"
)

const Prefix = "RX"

var ErrInvalidKey = errors.New("invalid key")

// Store persists received frames per gateway.
type Store interface {
	Store(f Frame) error
	StoreTx(tx Tx, f Frame) error
	Get(gatewayID string) (*Frame, error)
	GetAll(gatewayID string, count int) ([]Frame, error)
	Keys() ([]string, error)
	Begin() Tx
}

type Tx interface {
	Discard()
	Commit() error
}

// Frame is a validated rxpk as received from a gateway.
type Frame struct {
	ID         uuid.UUID
	GatewayID  string
	ReceivedAt time.Time
	Record     rxpk.Record
}

// NewFrame returns a Frame with a fresh ID, t is stored in UTC.
func NewFrame(gatewayID string, r rxpk.Record, t time.Time) Frame {
	return Frame{
		ID:         uuid.New(),
		GatewayID:  gatewayID,
		ReceivedAt: t.UTC(),
		Record:     r,
	}
}

// DataKey returns the key for a frame
func DataKey(gatewayID string, t time.Time, id uuid.UUID) []byte {
	// the data key Prefix+"D"+gatewayID+#+time+id
	prefix := DataPrefix(gatewayID)
	dk := make([]byte, len(prefix)+8+16)
	copy(dk, prefix)
	// using reverse timestamp
	copy(dk[len(prefix):], reverseTs(t))
	copy(dk[len(prefix)+8:], id[:])
	return dk
}

// DataPrefix returns the prefix shared by all the data keys of gatewayID
func DataPrefix(gatewayID string) []byte {
	return []byte(Prefix + "D" + gatewayID + "#")
}

// ListKey returns the key used to list all gateways
func ListKey(gatewayID string) []byte {
	// a key Prefix+"L"+gatewayID
	return []byte(Prefix + "L" + gatewayID)
}

// ReadDataKey returns the gateway ID, time and frame ID
func ReadDataKey(dk []byte) (string, time.Time, uuid.UUID, error) {
	var t time.Time
	var id uuid.UUID

	// Prefix + "D" + at least one char + "#" + ts + id
	if len(dk) < len(Prefix)+1+1+1+8+16 || string(dk[:len(Prefix)+1]) != Prefix+"D" {
		return "", t, id, ErrInvalidKey
	}
	sep := len(dk) - 8 - 16 - 1
	if dk[sep] != '#' {
		return "", t, id, ErrInvalidKey
	}

	t = readReverseTs(dk[sep+1 : sep+1+8])
	copy(id[:], dk[sep+1+8:])

	gw := string(dk[len(Prefix)+1 : sep])
	return gw, t, id, nil
}
