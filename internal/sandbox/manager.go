package sandbox

import (
	"context"
	"time"

	"github.com/slok/microbox/internal/model"
)

//go:generate mockery --case underscore --output sandboxmock --outpkg sandboxmock --name Manager

// Manager drives VMs through their lifecycle. VM references are names, IDs or unique ID prefixes.
type Manager interface {
	Create(ctx context.Context, cfg model.VMConfig) (*model.VM, error)
	Start(ctx context.Context, ref string) error
	// Stop asks the guest to shut down and kills the VM if it didn't after timeout.
	Stop(ctx context.Context, ref string, timeout time.Duration) error
	Kill(ctx context.Context, ref string) error
	Remove(ctx context.Context, ref string) error
	// Wait blocks until the VM reaches a terminal state and returns its exit status.
	Wait(ctx context.Context, ref string) (*model.ExitStatus, error)

	Get(ctx context.Context, ref string) (*model.VM, error)
	List(ctx context.Context) ([]model.VM, error)
	Events(ctx context.Context, ref string) ([]model.VMEvent, error)
	Rename(ctx context.Context, ref string, name string) (*model.VM, error)
	// Prune removes every stopped or crashed VM and returns their IDs.
	Prune(ctx context.Context) ([]string, error)

	Exec(ctx context.Context, ref string, command []string, opts model.ExecOpts) (*model.ExecResult, error)
	// CopyTo copies a host file or directory into the VM.
	CopyTo(ctx context.Context, ref string, srcHost string, dstGuest string) error
	// CopyFrom copies a VM file or directory to the host.
	CopyFrom(ctx context.Context, ref string, srcGuest string, dstHost string) error
}
