// Package rxpk models the "rxpk" object a Semtech packet forwarder emits
// for every frame received over the air.
package rxpk

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Modulation string

const (
	LoRa Modulation = "LORA"
	FSK  Modulation = "FSK"
)

// CRCStatus is the result of the gateway CRC test on the frame.
type CRCStatus int

const (
	CRCIncorrect    CRCStatus = -1
	CRCNotPerformed CRCStatus = 0
	CRCCorrect      CRCStatus = 1
)

func (s CRCStatus) String() string {
	switch s {
	case CRCIncorrect:
		return "incorrect"
	case CRCNotPerformed:
		return "not performed"
	case CRCCorrect:
		return "correct"
	}
	return fmt.Sprintf("CRCStatus(%d)", int(s))
}

// DataRate is the parsed form of datr.
// SpreadingFactor and Bandwidth (kHz) are set for LoRa, BitRate (Hz) for FSK.
type DataRate struct {
	SpreadingFactor int
	Bandwidth       int
	BitRate         int
}

// CodeRate is the parsed k/n form of codr.
type CodeRate struct {
	K, N int
}

var (
	loRaDataRateRegex = regexp.MustCompile(`^SF([0-9]+)BW([0-9]+)$`)
	fskDataRateRegex  = regexp.MustCompile(`^[0-9]+$`)
	codeRateRegex     = regexp.MustCompile(`^([0-9]+)/([0-9]+)$`)
)

// Fields holds the raw values used to build a Record.
// Time and Tmst are optional, nil means the gateway did not report them.
type Fields struct {
	Time *time.Time
	Tmst *uint32
	Freq float64
	Chan uint32
	Rfch uint32
	Stat CRCStatus
	Modu Modulation
	Datr string
	Codr string
	Rssi int32
	Lsnr float64
	Size uint32
	Data string
}

// Record is a validated rxpk report, its fields can't change after New.
type Record struct {
	time    time.Time
	hasTime bool
	tmst    uint32
	hasTmst bool
	freq    float64
	channel uint32
	rfch    uint32
	stat    CRCStatus
	modu    Modulation
	datr    string
	dr      DataRate
	codr    string
	cr      CodeRate
	rssi    int32
	lsnr    float64
	size    uint32
	data    string
	payload []byte
}

// New validates f and returns the matching Record.
// Checks run in a fixed order and the first failure is returned.
func New(f Fields) (Record, error) {
	if f.Modu != LoRa && f.Modu != FSK {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidModulation, string(f.Modu))
	}

	if f.Stat != CRCIncorrect && f.Stat != CRCNotPerformed && f.Stat != CRCCorrect {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidCRCStatus, int(f.Stat))
	}

	if !(f.Freq > 0) || math.IsInf(f.Freq, 1) {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidFrequency, f.Freq)
	}

	dr, err := parseDataRate(f.Modu, f.Datr)
	if err != nil {
		return Record{}, err
	}

	cr, err := parseCodeRate(f.Codr)
	if err != nil {
		return Record{}, err
	}

	payload, err := DecodePayload(f.Data)
	if err != nil {
		return Record{}, err
	}

	if uint64(len(payload)) != uint64(f.Size) {
		return Record{}, fmt.Errorf("%w: size %d, decoded %d bytes", ErrPayloadSizeMismatch, f.Size, len(payload))
	}

	// JSON has no literal for NaN or infinities
	if math.IsNaN(f.Lsnr) || math.IsInf(f.Lsnr, 0) {
		return Record{}, &FieldTypeError{Name: KeyLsnr, Expected: expectFinite, Value: f.Lsnr}
	}

	var ts time.Time
	if f.Time != nil {
		ts = normalizeTime(*f.Time)
		// TimeFormat renders 4 digit years only
		if y := ts.Year(); y < 0 || y > 9999 {
			return Record{}, &FieldTypeError{Name: KeyTime, Expected: expectTimestamp, Value: *f.Time}
		}
	}

	r := Record{
		freq:    f.Freq,
		channel: f.Chan,
		rfch:    f.Rfch,
		stat:    f.Stat,
		modu:    f.Modu,
		datr:    f.Datr,
		dr:      dr,
		codr:    f.Codr,
		cr:      cr,
		rssi:    f.Rssi,
		lsnr:    f.Lsnr,
		size:    f.Size,
		data:    strings.TrimRight(f.Data, "="),
		payload: payload,
	}
	if f.Time != nil {
		r.time = ts
		r.hasTime = true
	}
	if f.Tmst != nil {
		r.tmst = *f.Tmst
		r.hasTmst = true
	}
	return r, nil
}

// normalizeTime drops location, monotonic reading and sub microsecond digits,
// the wire only carries UTC with microsecond precision.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func parseDataRate(modu Modulation, datr string) (DataRate, error) {
	var dr DataRate
	switch modu {
	case LoRa:
		m := loRaDataRateRegex.FindStringSubmatch(datr)
		if m == nil {
			return dr, fmt.Errorf("%w: %q is not SF<n>BW<m>", ErrInvalidDataRate, datr)
		}
		sf, err := strconv.Atoi(m[1])
		if err != nil || sf <= 0 {
			return dr, fmt.Errorf("%w: spreading factor in %q", ErrInvalidDataRate, datr)
		}
		bw, err := strconv.Atoi(m[2])
		if err != nil || bw <= 0 {
			return dr, fmt.Errorf("%w: bandwidth in %q", ErrInvalidDataRate, datr)
		}
		dr.SpreadingFactor = sf
		dr.Bandwidth = bw
	case FSK:
		if !fskDataRateRegex.MatchString(datr) {
			return dr, fmt.Errorf("%w: %q is not a bit rate", ErrInvalidDataRate, datr)
		}
		br, err := strconv.Atoi(datr)
		if err != nil || br <= 0 {
			return dr, fmt.Errorf("%w: bit rate %q", ErrInvalidDataRate, datr)
		}
		dr.BitRate = br
	}
	return dr, nil
}

func parseCodeRate(codr string) (CodeRate, error) {
	var cr CodeRate
	m := codeRateRegex.FindStringSubmatch(codr)
	if m == nil {
		return cr, fmt.Errorf("%w: %q is not k/n", ErrInvalidCodingRate, codr)
	}
	k, err := strconv.Atoi(m[1])
	if err != nil || k <= 0 {
		return cr, fmt.Errorf("%w: %q", ErrInvalidCodingRate, codr)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 || k > n {
		return cr, fmt.Errorf("%w: %q", ErrInvalidCodingRate, codr)
	}
	cr.K = k
	cr.N = n
	return cr, nil
}

// DecodePayload decodes the Base64 data field.
// Trailing '=' are stripped then restored from the length modulo 4:
// 0 needs none, 2 needs "==", 3 needs "=", 1 can't be valid Base64.
func DecodePayload(data string) ([]byte, error) {
	s := strings.TrimRight(data, "=")
	switch len(s) % 4 {
	case 1:
		return nil, fmt.Errorf("%w: %d significant characters", ErrInvalidPayloadEncoding, len(s))
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayloadEncoding, err)
	}
	return b, nil
}

// EncodePayload returns b as Base64 without padding, as gateways send it.
func EncodePayload(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// Time returns the gateway UTC receive time, ok is false when the
// gateway has no accurate time source.
func (r Record) Time() (time.Time, bool) { return r.time, r.hasTime }

// Tmst returns the gateway internal counter in µs, it wraps every ~72 minutes
// and is not comparable across gateways.
func (r Record) Tmst() (uint32, bool) { return r.tmst, r.hasTmst }

// Freq is the center frequency in MHz.
func (r Record) Freq() float64 { return r.freq }

// Chan is the concentrator IF channel.
func (r Record) Chan() uint32 { return r.channel }

// RFChain is the concentrator RF chain.
func (r Record) RFChain() uint32 { return r.rfch }

func (r Record) Stat() CRCStatus { return r.stat }

func (r Record) Modulation() Modulation { return r.modu }

func (r Record) Datr() string { return r.datr }

func (r Record) DataRate() DataRate { return r.dr }

func (r Record) Codr() string { return r.codr }

func (r Record) CodeRate() CodeRate { return r.cr }

// RSSI in dBm.
func (r Record) RSSI() int32 { return r.rssi }

// LSNR in dB.
func (r Record) LSNR() float64 { return r.lsnr }

// Size in octets, always the decoded length of Data.
func (r Record) Size() uint32 { return r.size }

// Data is the Base64 payload without padding characters.
func (r Record) Data() string { return r.data }

// Payload returns a copy of the decoded payload.
func (r Record) Payload() []byte {
	b := make([]byte, len(r.payload))
	copy(b, r.payload)
	return b
}

// Fields returns the values r was built from, modify and pass to New
// to derive a new Record.
func (r Record) Fields() Fields {
	f := Fields{
		Freq: r.freq,
		Chan: r.channel,
		Rfch: r.rfch,
		Stat: r.stat,
		Modu: r.modu,
		Datr: r.datr,
		Codr: r.codr,
		Rssi: r.rssi,
		Lsnr: r.lsnr,
		Size: r.size,
		Data: r.data,
	}
	if r.hasTime {
		t := r.time
		f.Time = &t
	}
	if r.hasTmst {
		tmst := r.tmst
		f.Tmst = &tmst
	}
	return f
}

// Equal reports whether r and o hold the same values, including
// the presence of the optional fields.
func (r Record) Equal(o Record) bool {
	if r.hasTime != o.hasTime || (r.hasTime && !r.time.Equal(o.time)) {
		return false
	}
	if r.hasTmst != o.hasTmst || r.tmst != o.tmst {
		return false
	}
	return r.freq == o.freq &&
		r.channel == o.channel &&
		r.rfch == o.rfch &&
		r.stat == o.stat &&
		r.modu == o.modu &&
		r.datr == o.datr &&
		r.codr == o.codr &&
		r.rssi == o.rssi &&
		r.lsnr == o.lsnr &&
		r.size == o.size &&
		r.data == o.data &&
		bytes.Equal(r.payload, o.payload)
}

func (r Record) String() string {
	ts := "-"
	if r.hasTime {
		ts = r.time.Format(TimeFormat)
	}
	return fmt.Sprintf("rxpk{time=%s freq=%v chan=%d rfch=%d stat=%d modu=%s datr=%s codr=%s rssi=%d lsnr=%v size=%d}",
		ts, r.freq, r.channel, r.rfch, int(r.stat), r.modu, r.datr, r.codr, r.rssi, r.lsnr, r.size)
}
