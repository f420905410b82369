package stashloop

import (
	"errors"
	"fmt"

	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/matthewjhunter/stashloop/internal/storage"
)

var (
	// ErrUnauthorized means the caller has no identity for the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the item or user does not exist or is not the caller's.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for a status change outside the
	// lifecycle table, or when the item changed underneath the request.
	ErrInvalidTransition = item.ErrInvalidTransition
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr maps storage sentinels onto the package's errors.
func storeErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
