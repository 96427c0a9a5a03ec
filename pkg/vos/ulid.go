package vos

import (
	"crypto/rand"
	"errors"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidULID is returned when a ULID is invalid (the zero value).
	ErrInvalidULID = errors.New("invalid ULID")
)

// ULID represents a Universally Unique Lexicographically Sortable
// Identifier. Safe for concurrent use.
type ULID struct {
	Value ulid.ULID
}

// NewULID creates a new ULID using crypto/rand as its entropy source, so
// it is safe to call from multiple goroutines without coordination.
func NewULID() (ULID, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return ULID{}, err
	}

	vo := ULID{
		Value: id,
	}

	if err := vo.Validate(); err != nil {
		return ULID{}, err
	}
	return vo, nil
}

// NewULIDFromString parses value as a ULID.
func NewULIDFromString(value string) (ULID, error) {
	ulidValue, err := ulid.Parse(value)
	if err != nil {
		return ULID{}, err
	}

	vo := ULID{
		Value: ulidValue,
	}

	if err := vo.Validate(); err != nil {
		return ULID{}, err
	}
	return vo, nil
}

// Validate reports whether the ULID is non-zero.
func (u ULID) Validate() error {
	if u.Value.Compare(ulid.ULID{}) == 0 {
		return ErrInvalidULID
	}
	return nil
}

// String returns the canonical string representation.
func (u ULID) String() string {
	return u.Value.String()
}
