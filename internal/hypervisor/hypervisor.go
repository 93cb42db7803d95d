package hypervisor

import (
	"context"
	"errors"
	"net"

	"github.com/slok/microbox/internal/model"
)

// ErrHypervisor is reported as the exit error of machines whose hypervisor failed,
// as opposed to a guest that exited on its own.
var ErrHypervisor = errors.New("hypervisor failure")

// BootSpec is everything a hypervisor needs to boot a VM.
type BootSpec struct {
	VMID      string
	VCPUs     int
	MemoryMiB int
	RootFS    string
	// Exec is the initial process run by the guest agent.
	Exec model.ExecSpec
	// RunDir is a per VM directory the hypervisor can use for sockets, PID and exit files.
	RunDir string
}

// ExitStatus is how a machine ended.
type ExitStatus struct {
	// Code is the exit code of the guest initial process.
	Code int
	// Err is set when the machine did not end with a guest exit (e.g. hypervisor failure).
	Err error
}

// Machine is a booted VM.
type Machine interface {
	// Ref returns the data required to reattach to the machine from another process.
	Ref() model.MachineRef
	// Dial opens a connection to the guest agent service port.
	Dial(ctx context.Context) (net.Conn, error)
	// Terminate kills the machine immediately. It's safe to call multiple times.
	Terminate() error
	// Done is closed once the machine is gone.
	Done() <-chan struct{}
	// ExitStatus is only valid after Done is closed.
	ExitStatus() ExitStatus
}

// Hypervisor boots machines.
type Hypervisor interface {
	Boot(ctx context.Context, spec BootSpec) (Machine, error)
	// Attach returns the machine of a reference obtained from a previous boot. If the
	// machine is already gone the returned machine is done.
	Attach(ctx context.Context, ref model.MachineRef) (Machine, error)
}
