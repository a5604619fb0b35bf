package orders

import "time"

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED" // terminal
)

// CancelWindow is how long after creation a CONFIRMED order may still be
// canceled. The boundary is inclusive.
const CancelWindow = 10 * time.Minute

func ValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusConfirmed, StatusCanceled:
		return true
	}
	return false
}

// CanCancel decides the cancellation transition for an order in status s
// created at createdAt, evaluated against wall-clock now.
func CanCancel(s Status, createdAt, now time.Time) error {
	switch s {
	case StatusCreated:
		return nil
	case StatusConfirmed:
		if now.Sub(createdAt) <= CancelWindow {
			return nil
		}
		return ErrWindowExpired
	default:
		return ErrInvalidStatus
	}
}
