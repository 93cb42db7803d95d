package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidState is returned when an operation is not allowed in the current VM state.
	ErrInvalidState = errors.New("invalid state")
	// ErrBoot is returned when the hypervisor could not boot a VM or the guest never became reachable.
	ErrBoot = errors.New("boot failed")
)

// TransitionError is returned when a lifecycle operation on a VM fails.
type TransitionError struct {
	VMID string
	Op   string
	From VMState
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s vm %s (state %s): %s", e.Op, e.VMID, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
