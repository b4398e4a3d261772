package query

import (
	"encoding/json"
	"errors"
	"strings"
)

// Sentinel errors matched with errors.Is against a *Failure.
var (
	ErrRejected  = errors.New("query rejected by safety gate")
	ErrTransient = errors.New("transient store failure")
	ErrPermanent = errors.New("permanent store failure")
)

// Kind classifies an execution failure.
type Kind string

const (
	KindValidationRejection Kind = "ValidationRejection"
	KindTransient           Kind = "TransientStoreFailure"
	KindPermanent           Kind = "PermanentStoreFailure"
)

// transientMarkers are matched case-insensitively against store error text.
var transientMarkers = []string{"timeout", "connection", "network", "deadlock"}

// IsTransient reports whether err looks retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Failure is the error half of an Outcome.
type Failure struct {
	Kind     Kind
	Message  string
	Query    string
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return f.Message
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (f *Failure) Unwrap() []error {
	var sentinel error
	switch f.Kind {
	case KindValidationRejection:
		sentinel = ErrRejected
	case KindTransient:
		sentinel = ErrTransient
	default:
		sentinel = ErrPermanent
	}
	if f.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, f.Err}
}

// MarshalJSON encodes the failure as {"error", "query", "attempts"}.
func (f *Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error    string `json:"error"`
		Query    string `json:"query"`
		Attempts int    `json:"attempts"`
	}{f.Message, f.Query, f.Attempts})
}

func newFailure(query string, attempts int, err error) *Failure {
	f := &Failure{Query: query, Attempts: attempts, Err: err}
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
		f.Kind = KindValidationRejection
		f.Message = rej.Reason
	case IsTransient(err):
		f.Kind = KindTransient
		f.Message = err.Error()
	default:
		f.Kind = KindPermanent
		f.Message = err.Error()
	}
	return f
}
