package grid

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer of the simulation. None of these are
// fatal: a failing sub-action is dropped and the tick continues.
var (
	ErrInvalidAction = errors.New("invalid action")
	ErrNotFound      = errors.New("not found")
	ErrInvalidSwap   = errors.New("invalid swap")
	ErrUnreachable   = errors.New("unreachable")

	ErrInvalidPosition = fmt.Errorf("%w: position out of bounds", ErrInvalidAction)
)
