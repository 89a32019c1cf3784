package rxpk

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the layout used to render time on the wire.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// accepted when decoding, the basic layout covers gateways sending
// the ISO 8601 compact form, fractional seconds are optional for both
var timeLayouts = []string{
	time.RFC3339Nano,
	"20060102T150405Z07:00",
}

// wire keys
const (
	KeyTime = "time"
	KeyTmst = "tmst"
	KeyFreq = "freq"
	KeyChan = "chan"
	KeyRfch = "rfch"
	KeyStat = "stat"
	KeyModu = "modu"
	KeyDatr = "datr"
	KeyCodr = "codr"
	KeyRssi = "rssi"
	KeyLsnr = "lsnr"
	KeySize = "size"
	KeyData = "data"
)

var requiredKeys = []string{
	KeyChan, KeyRfch, KeyFreq, KeyStat, KeyModu, KeyDatr,
	KeyCodr, KeyRssi, KeyLsnr, KeySize, KeyData,
}

const (
	expectUnsigned  = "unsigned integer"
	expectInteger   = "integer"
	expectNumber    = "number"
	expectString    = "string"
	expectTimestamp = "timestamp"
	expectFinite    = "finite number"
)

// Decode converts one rxpk wire object into a validated Record.
// Numbers may be json.Number, any Go float or integer type.
// Unknown keys are ignored.
func Decode(obj map[string]interface{}) (Record, error) {
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			return Record{}, &MissingFieldError{Name: k}
		}
	}

	var f Fields
	var err error

	// a null optional field is the same as an absent one
	if v := obj[KeyTime]; v != nil {
		t, err := toTime(KeyTime, v)
		if err != nil {
			return Record{}, err
		}
		f.Time = &t
	}

	if v := obj[KeyTmst]; v != nil {
		tmst, err := toUint32(KeyTmst, v)
		if err != nil {
			return Record{}, err
		}
		f.Tmst = &tmst
	}

	if f.Freq, err = toFloat64(KeyFreq, obj[KeyFreq]); err != nil {
		return Record{}, err
	}
	if f.Chan, err = toUint32(KeyChan, obj[KeyChan]); err != nil {
		return Record{}, err
	}
	if f.Rfch, err = toUint32(KeyRfch, obj[KeyRfch]); err != nil {
		return Record{}, err
	}
	stat, err := toInt32(KeyStat, obj[KeyStat])
	if err != nil {
		return Record{}, err
	}
	f.Stat = CRCStatus(stat)

	modu, err := toString(KeyModu, obj[KeyModu])
	if err != nil {
		return Record{}, err
	}
	f.Modu = Modulation(modu)

	if f.Datr, err = toDatr(obj[KeyDatr]); err != nil {
		return Record{}, err
	}
	if f.Codr, err = toString(KeyCodr, obj[KeyCodr]); err != nil {
		return Record{}, err
	}
	if f.Rssi, err = toInt32(KeyRssi, obj[KeyRssi]); err != nil {
		return Record{}, err
	}
	if f.Lsnr, err = toFloat64(KeyLsnr, obj[KeyLsnr]); err != nil {
		return Record{}, err
	}
	if f.Size, err = toUint32(KeySize, obj[KeySize]); err != nil {
		return Record{}, err
	}
	if f.Data, err = toString(KeyData, obj[KeyData]); err != nil {
		return Record{}, err
	}

	return New(f)
}

// DecodeJSON decodes a single rxpk JSON object.
func DecodeJSON(b []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return Record{}, err
	}
	if dec.More() {
		return Record{}, ErrTrailingData
	}
	return Decode(obj)
}

// Encode returns the wire object for r, time and tmst are left out when absent.
// Numbers are json.Number so their text is kept as is when marshaled,
// floats always carry a decimal point.
func Encode(r Record) map[string]interface{} {
	obj := map[string]interface{}{
		KeyFreq: floatNumber(r.freq),
		KeyChan: uintNumber(r.channel),
		KeyRfch: uintNumber(r.rfch),
		KeyStat: intNumber(int64(r.stat)),
		KeyModu: string(r.modu),
		KeyDatr: r.datr,
		KeyCodr: r.codr,
		KeyRssi: intNumber(int64(r.rssi)),
		KeyLsnr: floatNumber(r.lsnr),
		KeySize: uintNumber(r.size),
		KeyData: r.data,
	}
	if r.hasTime {
		obj[KeyTime] = r.time.Format(TimeFormat)
	}
	if r.hasTmst {
		obj[KeyTmst] = uintNumber(r.tmst)
	}
	return obj
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(Encode(r))
}

func (r *Record) UnmarshalJSON(b []byte) error {
	rec, err := DecodeJSON(b)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func uintNumber(v uint32) json.Number {
	return json.Number(strconv.FormatUint(uint64(v), 10))
}

func intNumber(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

func floatNumber(v float64) json.Number {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return json.Number(s)
}

func toString(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &FieldTypeError{Name: name, Expected: expectString, Value: v}
	}
	return s, nil
}

// toDatr accepts a string, or an integral number as FSK bit rates are
// sent unquoted by most packet forwarders.
func toDatr(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	i, ok := integer(v)
	if !ok {
		return "", &FieldTypeError{Name: KeyDatr, Expected: expectString, Value: v}
	}
	return strconv.FormatInt(i, 10), nil
}

func toTime(name string, v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, &FieldTypeError{Name: name, Expected: expectTimestamp, Value: v}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &FieldTypeError{Name: name, Expected: expectTimestamp, Value: v}
}

func toUint32(name string, v interface{}) (uint32, error) {
	i, ok := integer(v)
	if !ok || i < 0 || i > math.MaxUint32 {
		return 0, &FieldTypeError{Name: name, Expected: expectUnsigned, Value: v}
	}
	return uint32(i), nil
}

func toInt32(name string, v interface{}) (int32, error) {
	i, ok := integer(v)
	if !ok || i < math.MinInt32 || i > math.MaxInt32 {
		return 0, &FieldTypeError{Name: name, Expected: expectInteger, Value: v}
	}
	return int32(i), nil
}

func toFloat64(name string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &FieldTypeError{Name: name, Expected: expectNumber, Value: v}
		}
		return f, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	if i, ok := integer(v); ok {
		return float64(i), nil
	}
	return 0, &FieldTypeError{Name: name, Expected: expectNumber, Value: v}
}

// integer returns v as an int64 if v is a number without fractional part.
func integer(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatInteger(f)
	case float64:
		return floatInteger(n)
	case float32:
		return floatInteger(float64(n))
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintInteger(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintInteger(n)
	}
	return 0, false
}

func floatInteger(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func uintInteger(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

