package core

import "errors"

// Error taxonomy shared by stores, services and transports. Callers wrap
// these with fmt.Errorf("...: %w") and match them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransient       = errors.New("transient failure")
	ErrInternal        = errors.New("internal error")
)

// ErrProgressUnavailable marks a write that was committed but whose progress
// could not be computed afterwards. The returned view carries the stored
// record without progress; callers must not retry the write.
var ErrProgressUnavailable = errors.New("goal stored, progress unavailable")

var (
	ErrInvalidAmount = errors.New("goal amount must be positive")
	ErrAmountScale   = errors.New("amount has more than two decimal places")
)

// Kind returns the taxonomy sentinel err belongs to, ErrInternal when unknown.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrInvalidArgument, ErrTransient, ErrInternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
