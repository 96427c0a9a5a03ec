package vos

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidUUID is returned when a UUID is invalid (the zero value).
var ErrInvalidUUID = errors.New("invalid UUID")

// UUID wraps google/uuid's UUID in the same value-object shape as ULID:
// a validated constructor plus a Validate/String pair.
type UUID struct {
	Value uuid.UUID
}

// NewUUID creates a time-ordered UUIDv7, suitable as a request or
// correlation identifier (grounded in the pack's uuid.NewV7() idiom).
func NewUUID() (UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return UUID{}, err
	}

	vo := UUID{Value: id}
	if err := vo.Validate(); err != nil {
		return UUID{}, err
	}
	return vo, nil
}

// NewUUIDFromString parses value as a UUID.
func NewUUIDFromString(value string) (UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return UUID{}, err
	}

	vo := UUID{Value: id}
	if err := vo.Validate(); err != nil {
		return UUID{}, err
	}
	return vo, nil
}

// Validate reports whether the UUID is non-zero.
func (u UUID) Validate() error {
	if u.Value == uuid.Nil {
		return ErrInvalidUUID
	}
	return nil
}

// String returns the canonical string representation.
func (u UUID) String() string {
	return u.Value.String()
}
