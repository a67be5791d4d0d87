package providers

import (
	"errors"
	"fmt"
)

// Sentinel errors for identification failures. A *Failure matches the
// sentinel of its kind with errors.Is.
var (
	ErrNetwork           = errors.New("identification service unreachable")
	ErrMalformedResponse = errors.New("malformed identification response")
	ErrServiceReported   = errors.New("identification service reported an error")
	ErrNoMatch           = errors.New("no matching species")
)

// FailureKind classifies why an identification did not produce a result
type FailureKind int

const (
	NetworkError FailureKind = iota + 1
	MalformedResponse
	ServiceReportedError
	NoMatch
)

func (k FailureKind) String() string {
	switch k {
	case NetworkError:
		return "network_error"
	case MalformedResponse:
		return "malformed_response"
	case ServiceReportedError:
		return "service_reported_error"
	case NoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case NetworkError:
		return ErrNetwork
	case MalformedResponse:
		return ErrMalformedResponse
	case ServiceReportedError:
		return ErrServiceReported
	case NoMatch:
		return ErrNoMatch
	default:
		return nil
	}
}

// Failure is a typed identification failure.
// Message carries the service-provided text for ServiceReportedError.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && target == s
}

// UserMessage is the human readable text shown for the failure. It is never empty.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case ServiceReportedError:
		if f.Message != "" {
			return f.Message
		}
		return "The identification service rejected the request."
	case NoMatch:
		return "No matching species was found for this photo. Try another picture."
	case MalformedResponse:
		return "The identification service returned a response that could not be read."
	case NetworkError:
		return "Could not reach the identification service. Check your connection and try again."
	default:
		return "Identification failed."
	}
}

// NewNetworkFailure wraps a transport level error
func NewNetworkFailure(err error) *Failure {
	return &Failure{Kind: NetworkError, Err: err}
}

// NewMalformedFailure records why a response could not be parsed
func NewMalformedFailure(format string, args ...any) *Failure {
	return &Failure{Kind: MalformedResponse, Err: fmt.Errorf(format, args...)}
}

// AsFailure extracts a *Failure from err. Errors that are not failures are
// reported as network failures so they are never silently dropped.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewNetworkFailure(err)
}
