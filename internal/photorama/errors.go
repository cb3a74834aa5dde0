package photorama

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")

	// The network or transport failed, or the remote answered with a non-success status.
	ErrTransport = errors.New("transport error")
	// The document did not have the photos.photo array at all.
	ErrMalformedFeed = errors.New("malformed feed")
	// A single record was missing a field or had one that couldn't be parsed.
	ErrInvalidRecord = errors.New("invalid record")
	// A record's photo ID was already stored.
	ErrDuplicateRecord = errors.New("duplicate record")
	// Bytes were fetched but are not an image.
	ErrImageDecode = errors.New("image decode error")
	ErrPersistence = errors.New("persistence error")
	// Sending a snapshot to the companion failed. Only ever logged.
	ErrTransfer = errors.New("transfer error")
)

// RecordError describes why one record of a feed was skipped.
type RecordError struct {
	Index   int
	PhotoID string
	// Field is empty for duplicates.
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d (id %q): %s", e.Index, e.PhotoID, e.Err)
	}
	return fmt.Sprintf("record %d (id %q): field %s: %s", e.Index, e.PhotoID, e.Field, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
