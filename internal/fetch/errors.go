// Package fetch downloads and parses segments. Requests are scheduled by
// priority, retried with backoff and parsed into timing and payload data
// ready to be appended to a sink.
package fetch

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

// Error kinds.
const (
	ErrorKindNetwork ErrorKind = "network"
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindParse   ErrorKind = "parse"
)

// ErrCanceled is returned to callers waiting on a canceled request.
var ErrCanceled = errors.New("request canceled")

// Error is a segment fetch or parse failure.
type Error struct {
	Kind      ErrorKind
	MediaType media.Type
	URL       string
	// Fatal is false for best-effort media types, whose failures are
	// absorbed instead of surfaced.
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s error for %s: %v", e.MediaType, e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newLoadError(t media.Type, url string, err error) *Error {
	kind := ErrorKindNetwork
	if httpclient.IsTimeout(err) {
		kind = ErrorKindTimeout
	}
	return &Error{Kind: kind, MediaType: t, URL: url, Fatal: t.IsCritical(), Err: err}
}

func newParseError(t media.Type, url string, err error) *Error {
	return &Error{Kind: ErrorKindParse, MediaType: t, URL: url, Fatal: t.IsCritical(), Err: err}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
