package gw

import (
	"encoding/json"

	"github.com/akhenakh/loragw/rxpk"
)

// UpstreamJSON is the PUSH_DATA JSON object.
// Each rxpk is kept raw so a malformed entry doesn't reject its siblings.
type UpstreamJSON struct {
	Rxpk []json.RawMessage `json:"rxpk,omitempty"`
	Stat json.RawMessage   `json:"stat,omitempty"`
}

func DecodeUpstream(b []byte) (*UpstreamJSON, error) {
	ujson := &UpstreamJSON{}
	if err := json.Unmarshal(b, ujson); err != nil {
		return nil, err
	}
	return ujson, nil
}

// PushDataPacket is a PUSH_DATA datagram as sent by a gateway, used by simulators.
type PushDataPacket struct {
	Version   uint8
	Token     [2]byte
	GatewayID [8]byte
	Rxpk      []rxpk.Record
}

type upstreamOut struct {
	Rxpk []map[string]interface{} `json:"rxpk"`
}

func (p PushDataPacket) MarshalBinary() ([]byte, error) {
	out := upstreamOut{Rxpk: make([]map[string]interface{}, len(p.Rxpk))}
	for i, r := range p.Rxpk {
		out.Rxpk[i] = rxpk.Encode(r)
	}
	jsonb, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	version := p.Version
	if version == 0 {
		version = 2
	}

	b := make([]byte, headerSize, headerSize+len(jsonb))
	b[0] = version
	copy(b[1:3], p.Token[:])
	b[3] = PushData
	copy(b[4:headerSize], p.GatewayID[:])
	return append(b, jsonb...), nil
}
