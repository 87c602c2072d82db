package dagtrack

import (
	"errors"
	"fmt"
)

var (
	// ErrLostParticle: no volume on the other side of a crossed surface.
	// Recoverable; the host drops the particle and continues.
	ErrLostParticle = errors.New("lost particle")
	// ErrSlotOutOfRange is returned by SlotTable for indexes outside [1, capacity].
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrEmptyBank is logged when the bank is read or popped while empty.
	ErrEmptyBank = errors.New("bank is empty")
)

// FatalError wraps a geometric query failure. Transport state can not be
// trusted after one; the run must stop.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) error { return &FatalError{Op: op, Err: err} }

// IsFatal reports whether err (or anything it wraps) is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
