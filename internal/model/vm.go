package model

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// VMState represents the lifecycle state of a VM.
type VMState string

const (
	// VMStateCreated is a registered VM that has never been started.
	VMStateCreated VMState = "created"
	// VMStateStarting is a VM being booted and handshaked.
	VMStateStarting VMState = "starting"
	// VMStateRunning is a booted VM with an established guest channel.
	VMStateRunning VMState = "running"
	// VMStateStopping is a VM asked to shut down gracefully.
	VMStateStopping VMState = "stopping"
	// VMStateStopped is a VM whose machine is gone. It can be started again or removed.
	VMStateStopped VMState = "stopped"
	// VMStateCrashed is a VM that failed to boot or lost its machine abnormally.
	VMStateCrashed VMState = "crashed"
	// VMStateRemoved is a deregistered VM.
	VMStateRemoved VMState = "removed"
)

// IsTerminal returns true when the VM has no machine and no transition in flight.
func (s VMState) IsTerminal() bool {
	return s == VMStateStopped || s == VMStateCrashed || s == VMStateRemoved
}

// IsActive returns true when a machine may exist for the VM.
func (s VMState) IsActive() bool {
	return s == VMStateStarting || s == VMStateRunning || s == VMStateStopping
}

const (
	// MinMemoryMiB is the minimum amount of guest memory accepted.
	MinMemoryMiB = 128
	// DefaultVCPUs is used when no vcpus are set.
	DefaultVCPUs = 1
	// DefaultMemoryMiB is used when no memory is set.
	DefaultMemoryMiB = 512
)

// ExecSpec describes a process to run inside the guest.
type ExecSpec struct {
	Path       string
	Args       []string
	Env        map[string]string
	WorkingDir string
}

// VMConfig is the static configuration of a VM, immutable after creation.
type VMConfig struct {
	Name      string
	VCPUs     int
	MemoryMiB int
	// RootFS is the directory used as the guest root filesystem.
	RootFS string
	// Image is the image reference the rootfs was resolved from, if any.
	Image string
	// Exec is the initial process of the VM.
	Exec ExecSpec
	// AutoRemove removes the VM once it reaches a terminal state.
	AutoRemove bool
}

// Validate validates the VM configuration.
func (c *VMConfig) Validate() error {
	if c.VCPUs < 1 {
		return fmt.Errorf("vcpus must be at least 1: %w", ErrNotValid)
	}
	if c.MemoryMiB < MinMemoryMiB {
		return fmt.Errorf("memory must be at least %d MiB: %w", MinMemoryMiB, ErrNotValid)
	}
	if c.RootFS == "" {
		return fmt.Errorf("rootfs is required: %w", ErrNotValid)
	}
	if c.Exec.Path == "" {
		return fmt.Errorf("exec path is required: %w", ErrNotValid)
	}
	return nil
}

// ExitReason tells how a VM reached a terminal state.
type ExitReason string

const (
	ExitReasonExited  ExitReason = "exited"
	ExitReasonKilled  ExitReason = "killed"
	ExitReasonCrashed ExitReason = "crashed"
)

const (
	// KilledExitCode is reported for VMs terminated by kill (128 + SIGKILL).
	KilledExitCode = 137
	// CrashedExitCode is reported for VMs that crashed without an exit code.
	CrashedExitCode = -1
)

// ExitStatus is the final status of a VM run.
type ExitStatus struct {
	Code   int
	Reason ExitReason
	// Cause is set for crashed VMs.
	Cause string
}

// MachineRef identifies the running machine backing a VM, so other processes can reattach to it.
type MachineRef struct {
	PID        int
	RunDir     string
	SocketPath string
	CID        uint32
}

// VM represents a VM instance.
type VM struct {
	ID        string
	Name      string
	State     VMState
	Config    VMConfig
	Exit      *ExitStatus
	CreatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time
	Machine   *MachineRef
}

// Copy returns a deep copy of the VM.
func (v VM) Copy() VM {
	c := v
	c.Config.Exec.Args = slices.Clone(v.Config.Exec.Args)
	c.Config.Exec.Env = maps.Clone(v.Config.Exec.Env)
	if v.Exit != nil {
		e := *v.Exit
		c.Exit = &e
	}
	if v.StartedAt != nil {
		t := *v.StartedAt
		c.StartedAt = &t
	}
	if v.StoppedAt != nil {
		t := *v.StoppedAt
		c.StoppedAt = &t
	}
	if v.Machine != nil {
		m := *v.Machine
		c.Machine = &m
	}
	return c
}

// VMEvent is a single lifecycle transition journal entry.
type VMEvent struct {
	ID    string
	VMID  string
	From  VMState
	To    VMState
	Cause string
	At    time.Time
}
