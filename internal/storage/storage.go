package storage

import (
	"context"

	"github.com/slok/microbox/internal/model"
)

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository

// Repository is the interface for VM persistence.
type Repository interface {
	CreateVM(ctx context.Context, vm model.VM) error
	GetVM(ctx context.Context, id string) (*model.VM, error)
	GetVMByName(ctx context.Context, name string) (*model.VM, error)
	ListVMs(ctx context.Context) ([]model.VM, error)
	UpdateVM(ctx context.Context, vm model.VM) error
	DeleteVM(ctx context.Context, id string) error

	// AppendEvent journals a VM state transition.
	AppendEvent(ctx context.Context, e model.VMEvent) error
	// ListEvents returns the journal of a VM in insertion order.
	ListEvents(ctx context.Context, vmID string) ([]model.VMEvent, error)
}
