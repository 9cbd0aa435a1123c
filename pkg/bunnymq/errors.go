package bunnymq

import (
	"errors"

	"github.com/ilyadubrovsky/bunnymq/internal/retry"
)

var (
	ErrProcessing      = errors.New("the previous message was neither acknowledged nor requeued")
	ErrNotProcessing   = errors.New("no message is being processed")
	ErrNoHandler       = errors.New("no handler registered")
	ErrInvalidHandler  = errors.New("handler does not match the queue value type")
	ErrSerialization   = errors.New("serialization failed")
	ErrDeserialization = errors.New("deserialization failed")
	ErrInvalidPriority = errors.New("priority out of range")
	ErrInvalidName     = errors.New("invalid queue name")
	ErrInvalidRetries  = errors.New("max retries must be positive")
	ErrNoSerializer    = errors.New("serializer is required")

	// ErrMaxRetriesExceeded wraps the last transport failure once the retry
	// budget is spent. It is never retried by another caller.
	ErrMaxRetriesExceeded = retry.ErrExhausted
)

var fatalErrors = []error{
	ErrProcessing,
	ErrNotProcessing,
	ErrNoHandler,
	ErrSerialization,
	ErrDeserialization,
	ErrInvalidPriority,
	ErrInvalidName,
	ErrInvalidRetries,
}

func isFatal(err error) bool {
	for _, target := range fatalErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
