package main

import (
	"encoding/hex"
	"io/ioutil"
	"math/rand"
	"net"
	"os"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/namsral/flag"
	"gopkg.in/yaml.v3"

	"github.com/akhenakh/loragw/gw"
	"github.com/akhenakh/loragw/rxpk"
)

const appName = "fake_push_data"

// used when no fixture file is given
var defaultFixture = `
- chan: 2
  rfch: 0
  freq: 866.349812
  stat: 1
  modu: LORA
  datr: SF7BW125
  codr: 4/6
  rssi: -35
  lsnr: 5.1
  payload: TEST_PACKET_1234
- chan: 9
  rfch: 1
  freq: 869.1
  stat: 1
  modu: FSK
  datr: "50000"
  codr: 4/5
  rssi: -75
  lsnr: 0
  payload: FAKE
`

var (
	addr      = flag.String("addr", "localhost:1700", "Addr to sent the packet to")
	gatewayID = flag.String("gatewayID", "deadbeef00deadbe", "gateway EUI in hex")
	fixture   = flag.String("fixture", "", "YAML file listing the frames to send")
	version   = flag.Int("version", 2, "protocol version 1 or 2")
	timeout   = flag.Duration("timeout", 2*time.Second, "time to wait for PUSH_ACK")
)

// frame is a fixture entry, data is computed from payload when empty
type frame struct {
	Chan    uint32  `yaml:"chan"`
	Rfch    uint32  `yaml:"rfch"`
	Freq    float64 `yaml:"freq"`
	Stat    int32   `yaml:"stat"`
	Modu    string  `yaml:"modu"`
	Datr    string  `yaml:"datr"`
	Codr    string  `yaml:"codr"`
	Rssi    int32   `yaml:"rssi"`
	Lsnr    float64 `yaml:"lsnr"`
	Tmst    *uint32 `yaml:"tmst"`
	Payload string  `yaml:"payload"`
	Data    string  `yaml:"data"`
}

func (f frame) record(now time.Time) (rxpk.Record, error) {
	data := f.Data
	size := uint32(len(f.Payload))
	if data == "" {
		data = rxpk.EncodePayload([]byte(f.Payload))
	} else {
		b, err := rxpk.DecodePayload(data)
		if err != nil {
			return rxpk.Record{}, err
		}
		size = uint32(len(b))
	}

	tmst := f.Tmst
	if tmst == nil {
		t := rand.Uint32()
		tmst = &t
	}

	return rxpk.New(rxpk.Fields{
		Time: &now,
		Tmst: tmst,
		Freq: f.Freq,
		Chan: f.Chan,
		Rfch: f.Rfch,
		Stat: rxpk.CRCStatus(f.Stat),
		Modu: rxpk.Modulation(f.Modu),
		Datr: f.Datr,
		Codr: f.Codr,
		Rssi: f.Rssi,
		Lsnr: f.Lsnr,
		Size: size,
		Data: data,
	})
}

func main() {
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "app", appName)

	fail := func(msg string, err error) {
		level.Error(logger).Log("msg", msg, "error", err)
		os.Exit(2)
	}

	b := []byte(defaultFixture)
	if *fixture != "" {
		var err error
		b, err = ioutil.ReadFile(*fixture)
		if err != nil {
			fail("can't read fixture", err)
		}
	}

	var frames []frame
	if err := yaml.Unmarshal(b, &frames); err != nil {
		fail("can't parse fixture", err)
	}

	now := time.Now()
	p := gw.PushDataPacket{Version: uint8(*version)}
	rand.Read(p.Token[:])

	eui, err := hex.DecodeString(*gatewayID)
	if err != nil || len(eui) != len(p.GatewayID) {
		fail("invalid gateway id", err)
	}
	copy(p.GatewayID[:], eui)

	for i, f := range frames {
		r, err := f.record(now)
		if err != nil {
			level.Error(logger).Log("msg", "invalid frame in fixture", "index", i, "reason", rxpk.Reason(err), "error", err)
			os.Exit(2)
		}
		p.Rxpk = append(p.Rxpk, r)
	}

	pkt, err := p.MarshalBinary()
	if err != nil {
		fail("can't marshal PUSH_DATA", err)
	}

	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		fail("can't resolve addr", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		fail("can't dial", err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		fail("can't send PUSH_DATA", err)
	}
	level.Info(logger).Log("msg", "sent PUSH_DATA", "rxpk", len(p.Rxpk), "token", hex.EncodeToString(p.Token[:]))

	if err := conn.SetReadDeadline(time.Now().Add(*timeout)); err != nil {
		fail("can't set deadline", err)
	}
	ack := make([]byte, 4)
	n, err := conn.Read(ack)
	if err != nil {
		fail("no PUSH_ACK received", err)
	}
	if n != 4 || ack[3] != gw.PushAck || ack[1] != p.Token[0] || ack[2] != p.Token[1] {
		level.Error(logger).Log("msg", "unexpected ack", "ack", hex.EncodeToString(ack[:n]))
		os.Exit(2)
	}
	level.Info(logger).Log("msg", "received PUSH_ACK")
}
