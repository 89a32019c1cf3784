package gw

import (
	"encoding/hex"
	"errors"
)

//  Bytes  | Function
//:------:|---------------------------------------------------------------------
// 0      | protocol version = 1 or 2
// 1-2    | random token
// 3      | identifier
// 4-11   | Gateway unique identifier (MAC address), PUSH_DATA and PULL_DATA only
// 12-end | JSON object, PUSH_DATA only

const (
	PushData = 0x00
	PushAck  = 0x01
	PullData = 0x02
	PullResp = 0x03
	PullAck  = 0x04
	TxAck    = 0x05
)

const headerSize = 12

var (
	ErrPacketTooShort          = errors.New("invalid packet length")
	ErrInvalidProtocolVersion  = errors.New("invalid packet protocol version")
	ErrUnsupportedPacketType   = errors.New("unsupported packet type")
	ErrUnexpectedPacketPayload = errors.New("unexpected payload")
)

// Packet is an upstream datagram sent by a gateway.
type Packet struct {
	Version   uint8
	Token     [2]byte
	Type      byte
	GatewayID [8]byte
	// JSON object for PUSH_DATA
	Payload []byte
}

// ParsePacket parses a PUSH_DATA or PULL_DATA datagram.
func ParsePacket(p []byte) (Packet, error) {
	var pkt Packet
	if len(p) < 4 {
		return pkt, ErrPacketTooShort
	}

	pkt.Version = p[0]
	if pkt.Version != 1 && pkt.Version != 2 {
		return pkt, ErrInvalidProtocolVersion
	}

	copy(pkt.Token[:], p[1:3])
	pkt.Type = p[3]

	switch pkt.Type {
	case PushData, PullData:
	default:
		return pkt, ErrUnsupportedPacketType
	}

	if len(p) < headerSize {
		return pkt, ErrPacketTooShort
	}
	copy(pkt.GatewayID[:], p[4:headerSize])

	if pkt.Type == PullData && len(p) > headerSize {
		return pkt, ErrUnexpectedPacketPayload
	}
	pkt.Payload = p[headerSize:]

	return pkt, nil
}

// GatewayIDString returns the gateway EUI in hex
func (p Packet) GatewayIDString() string {
	return hex.EncodeToString(p.GatewayID[:])
}

// Ack returns the PUSH_ACK or PULL_ACK for p, echoing its token
func Ack(p Packet) []byte {
	ack := make([]byte, 4)
	ack[0] = p.Version
	copy(ack[1:3], p.Token[:])
	ack[3] = PushAck
	if p.Type == PullData {
		ack[3] = PullAck
	}
	return ack
}
