package orders

import (
	"errors"
	"fmt"
)

// Sentinel errors carry the exact wire messages the API returns; handlers
// map them to status codes and machine-readable kinds.
var (
	ErrNotFound              = errors.New("Not found")
	ErrProductNotFound       = errors.New("Product not found")
	ErrInsufficientStock     = errors.New("Stock insuficiente")
	ErrInvalidStatus         = errors.New("Invalid status")
	ErrWindowExpired         = errors.New("Cancelation window expired")
	ErrMissingIdempotencyKey = errors.New("Missing idempotency key")
)

// ValidationError rejects malformed input before any data access.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
