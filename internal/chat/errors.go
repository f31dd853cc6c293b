package chat

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is classification at the edges.
var (
	ErrProvider   = errors.New("provider error")
	ErrStorage    = errors.New("storage error")
	ErrValidation = errors.New("validation error")

	ErrChatNotFound = errors.New("chat not found")

	// ErrExchangeInFlight is returned when a conversation already has an
	// exchange awaiting its response. Nothing was sent or stored.
	ErrExchangeInFlight = errors.New("exchange already in flight")
)

// ProviderError is a failed, refused or malformed completion call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider: %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// StorageError is a failed read or write against the chat store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ValidationError rejects input before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExchangeError reports a failed exchange together with the prompt so the
// caller can put it back in the input box. The conversation is unchanged.
type ExchangeError struct {
	ChatID int64 // zero for a conversation that was never saved
	Prompt string
	Err    error
}

func (e *ExchangeError) Error() string { return e.Err.Error() }
func (e *ExchangeError) Unwrap() error { return e.Err }
