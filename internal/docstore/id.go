package docstore

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// IDStrategy derives an identifier for a record that has none.
type IDStrategy func(rec Record) (string, error)

// NewID returns a random RFC 4122 version 4 identifier as 32 lowercase hex
// characters (no dashes).
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	return hex.EncodeToString(id[:]), nil
}

// RandomStrategy is the default [IDStrategy]. It ignores the record.
func RandomStrategy(Record) (string, error) {
	return NewID()
}

// FieldStrategy uses the string value of field as the identifier, e.g. an
// email address for users.
func FieldStrategy(field string) IDStrategy {
	return func(rec Record) (string, error) {
		v, ok := rec[field].(string)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: field %q must be a non-empty string", ErrInvalidID, field)
		}

		return v, nil
	}
}

// EncodeFilename maps an identifier onto a filesystem-safe base name using
// percent escaping. A leading dot is escaped as well so no identifier can
// produce ".", ".." or a hidden file.
//
// [DecodeFilename] is its exact inverse.
func EncodeFilename(id string) string {
	name := url.PathEscape(id)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}

	return name
}

// DecodeFilename reverses [EncodeFilename].
func DecodeFilename(name string) (string, error) {
	id, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("%w: decode filename %q: %w", ErrInvalidID, name, err)
	}

	return id, nil
}
