// Package failure defines the failure kinds the gateway reports to its callers.
//
// Every error leaving the client, transform and service packages is either a *Error or wraps one,
// so the HTTP layer can classify it with KindOf instead of matching on message text.
package failure

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-classifiable failure category. String values double as metric labels.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindUpstreamUnavailable
	KindUpstreamHTTP
	KindCityNotFound
	KindMalformedUpstreamData
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamHTTP:
		return "upstream_http"
	case KindCityNotFound:
		return "city_not_found"
	case KindMalformedUpstreamData:
		return "malformed_upstream_data"
	default:
		return "unknown"
	}
}

// Error carries the failure kind plus the kind-specific detail.
// Status and Body are set for KindUpstreamHTTP and KindCityNotFound; Field for KindMalformedUpstreamData.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	Field  string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamHTTP:
		return fmt.Sprintf("upstream returned HTTP %d", e.Status)
	case KindCityNotFound:
		return fmt.Sprintf("city not found (upstream HTTP %d)", e.Status)
	case KindMalformedUpstreamData:
		return fmt.Sprintf("malformed upstream data: missing or invalid %s", e.Field)
	case KindUpstreamUnavailable:
		if e.Err != nil {
			return "upstream unavailable: " + e.Err.Error()
		}
		return "upstream unavailable"
	case KindConfiguration:
		return "configuration error: " + e.Msg
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration reports a missing or unusable setting, such as an absent API key.
func Configuration(msg string) error {
	return &Error{Kind: KindConfiguration, Msg: msg}
}

// Unavailable reports a transport-level failure: timeout, DNS, refused connection, open circuit.
func Unavailable(err error) error {
	return &Error{Kind: KindUpstreamUnavailable, Err: err}
}

// UpstreamHTTP reports a non-2xx provider response.
func UpstreamHTTP(status int, body string) error {
	return &Error{Kind: KindUpstreamHTTP, Status: status, Body: body}
}

// NotFound reports the provider's "city not found" answer.
func NotFound(status int, body string) error {
	return &Error{Kind: KindCityNotFound, Status: status, Body: body}
}

// Malformed reports a required field that is absent or has the wrong type. field is a dotted path.
func Malformed(field string) error {
	return &Error{Kind: KindMalformedUpstreamData, Field: field}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
