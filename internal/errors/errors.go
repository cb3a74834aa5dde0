package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jdholdren/photorama/internal/photorama"
)

// Error is an error with the HTTP status it should be reported with.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error { return e.Err }

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
	Status  int      `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := http.StatusText(e.Status)
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Details: e.Details,
		Status:  e.Status,
	})
}

// E builds an Error out of whatever it's given: a string or error becomes the
// message, an int the status and Details are collected. The status defaults to 500.
func E(args ...any) *Error {
	ret := &Error{
		Status: http.StatusInternalServerError,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// FromDomain picks the status for an error coming out of the photo store.
//
// Internal failures are reported with a generic message so store details don't leak.
func FromDomain(err error) *Error {
	if sErr := (&Error{}); errors.As(err, &sErr) {
		return sErr
	}

	switch {
	case errors.Is(err, photorama.ErrNotFound):
		return E(http.StatusNotFound, "not found")
	case errors.Is(err, photorama.ErrMalformedFeed), errors.Is(err, photorama.ErrInvalidRecord):
		return E(http.StatusBadGateway, "remote returned an unusable feed")
	case errors.Is(err, photorama.ErrImageDecode):
		return E(http.StatusUnsupportedMediaType, "remote file is not an image")
	case errors.Is(err, photorama.ErrTransport):
		return E(http.StatusBadGateway, "error reaching remote")
	}

	return E(http.StatusInternalServerError, "internal server error")
}
