package docstore

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound reports that no record file exists for an identifier.
	// Read and Exists never return it; they report absence as nil/false.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID reports that Create found a record with the same identifier.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrMissingID reports an Update or Remove on a record without its
	// identifier field. It is returned before any I/O.
	ErrMissingID = errors.New("record has no identifier")

	// ErrInvalidID reports an identifier that is not a non-empty string.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrNotConnected reports use of a collection or registry before Connect.
	ErrNotConnected = errors.New("store not connected")

	// ErrUnknownCollection reports a lookup of a collection that was never configured.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrDuplicateCollection reports two collections sharing one name.
	ErrDuplicateCollection = errors.New("collection already configured")
)

// Error is the error type returned by [Collection] operations.
//
// It carries the collection name and record identifier next to the cause:
//
//	record not found (collection=users id=alice@example.com)
//
// Use [errors.Is] to check for sentinel errors:
//
//	if errors.Is(err, docstore.ErrDuplicateID) { ... }
//
// Absolute paths never appear in the message added by Error itself.
type Error struct {
	Collection string
	ID         string
	Err        error
}

// Error formats as "<cause> (collection=X id=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.Collection != "" {
		parts = append(parts, "collection="+e.Collection)
	}

	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// MissingError is returned by [Collection.All] when records listed by the
// directory scan disappeared before they could be read. The records that
// could be read are still returned next to it.
//
// It matches [ErrNotFound] with [errors.Is].
type MissingError struct {
	Collection string
	IDs        []string
}

func (e *MissingError) Error() string {
	return "records vanished during scan (collection=" + e.Collection + " ids=" + strings.Join(e.IDs, ",") + ")"
}

// Is reports whether target is [ErrNotFound].
func (e *MissingError) Is(target error) bool {
	return target == ErrNotFound
}

func (c *Collection) wrap(id string, err error) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	return &Error{Collection: c.name, ID: id, Err: err}
}
