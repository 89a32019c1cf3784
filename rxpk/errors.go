package rxpk

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidModulation      = errors.New("invalid modulation")
	ErrInvalidCRCStatus       = errors.New("invalid crc status")
	ErrInvalidFrequency       = errors.New("invalid frequency")
	ErrInvalidDataRate        = errors.New("invalid data rate")
	ErrInvalidCodingRate      = errors.New("invalid coding rate")
	ErrInvalidPayloadEncoding = errors.New("invalid payload encoding")
	ErrPayloadSizeMismatch    = errors.New("payload size mismatch")

	// ErrTrailingData is returned by DecodeJSON when the object is followed by more input
	ErrTrailingData = errors.New("unexpected data after rxpk object")
)

// MissingFieldError is returned by Decode when a required key is absent.
type MissingFieldError struct {
	Name string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Name)
}

// FieldTypeError is returned when a value can't be coerced to the type
// expected for its key, or can't be represented on the wire.
type FieldTypeError struct {
	Name     string
	Expected string
	Value    interface{}
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %T (%v)", e.Name, e.Expected, e.Value, e.Value)
}

// labels used by Reason, also used as prometheus label values
const (
	ReasonMissingField           = "missing_field"
	ReasonFieldTypeMismatch      = "field_type_mismatch"
	ReasonInvalidModulation      = "invalid_modulation"
	ReasonInvalidCRCStatus       = "invalid_crc_status"
	ReasonInvalidFrequency       = "invalid_frequency"
	ReasonInvalidDataRate        = "invalid_data_rate"
	ReasonInvalidCodingRate      = "invalid_coding_rate"
	ReasonInvalidPayloadEncoding = "invalid_payload_encoding"
	ReasonPayloadSizeMismatch    = "payload_size_mismatch"
	ReasonUnknown                = "unknown"
)

var sentinelReasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidModulation, ReasonInvalidModulation},
	{ErrInvalidCRCStatus, ReasonInvalidCRCStatus},
	{ErrInvalidFrequency, ReasonInvalidFrequency},
	{ErrInvalidDataRate, ReasonInvalidDataRate},
	{ErrInvalidCodingRate, ReasonInvalidCodingRate},
	{ErrInvalidPayloadEncoding, ReasonInvalidPayloadEncoding},
	{ErrPayloadSizeMismatch, ReasonPayloadSizeMismatch},
}

// Reason returns a short stable label for an error returned by New or Decode.
func Reason(err error) string {
	var mf *MissingFieldError
	if errors.As(err, &mf) {
		return ReasonMissingField
	}
	var ft *FieldTypeError
	if errors.As(err, &ft) {
		return ReasonFieldTypeMismatch
	}
	for _, s := range sentinelReasons {
		if errors.Is(err, s.err) {
			return s.reason
		}
	}
	return ReasonUnknown
}
