package storage

import (
	"encoding/binary"
	"math"
	"time"
)

func int64tob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// reverseTs encodes t so that keys sort most recent first
func reverseTs(t time.Time) []byte {
	return int64tob(math.MaxInt64 - t.UnixNano())
}

func readReverseTs(b []byte) time.Time {
	ts := int64(binary.BigEndian.Uint64(b))
	return time.Unix(0, math.MaxInt64-ts).UTC()
}
