package versioning

import (
	"errors"
	"fmt"

	"versionstore/api/internal/store"
)

var (
	// ErrNotFound covers absent items and commits, foreign-tenant ids and
	// references that do not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a state transition that is not allowed, such as
	// deleting an item that is already deleted.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument reports malformed input such as an empty link type.
	ErrInvalidArgument = errors.New("invalid argument")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// storeErr translates store.ErrNotFound into ErrNotFound with context and
// wraps anything else.
func storeErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFound(format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
