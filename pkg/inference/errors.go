package inference

import (
	"errors"
	"fmt"
)

// Markers for errors.Is classification at step boundaries.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrDecode        = errors.New("decode error")
)

// Reason explains why a structured call produced no result.
type Reason string

const (
	ReasonMissingCredential Reason = "missing_credential"
	ReasonTransport         Reason = "transport"
	ReasonHTTPStatus        Reason = "http_status"
	ReasonNoChoices         Reason = "no_choices"
	ReasonBlankContent      Reason = "blank_content"
	ReasonMalformedJSON     Reason = "malformed_json"
)

// CallError is returned when a call yields no usable result. Callers treat it
// as "no result" and continue; it never carries a context cancellation.
type CallError struct {
	Step   string
	Reason Reason
	Status int
	Err    error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: no result (%s", e.Step, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" %d", e.Status)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Reason == ReasonMissingCredential
	case ErrTransport:
		return e.Reason == ReasonTransport || e.Reason == ReasonHTTPStatus
	case ErrDecode:
		return e.Reason == ReasonNoChoices || e.Reason == ReasonBlankContent || e.Reason == ReasonMalformedJSON
	}
	return false
}

// NoResult reports whether err is a soft call failure rather than a
// cancellation or other hard error.
func NoResult(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}
