package validate

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is wrapped by every input validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// UserID rejects empty user identifiers.
func UserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id must be a non-empty string", ErrInvalidArgument)
	}
	return nil
}

// Timeout rejects non-positive wait durations.
func Timeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidArgument, d)
	}
	return nil
}
