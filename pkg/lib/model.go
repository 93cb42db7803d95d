package lib

import (
	"errors"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/slok/microbox/internal/model"
)

// HypervisorType identifies the hypervisor implementation.
type HypervisorType string

const (
	// HypervisorShim boots real microVMs through the external hypervisor shim.
	HypervisorShim HypervisorType = "shim"

	// HypervisorFake runs in-process guests that emulate a few commands.
	// Use this for testing without infrastructure dependencies. Fake VMs only
	// live as long as the client that started them.
	HypervisorFake HypervisorType = "fake"
)

// Transport is how the host reaches the guest agent of shim VMs.
type Transport string

const (
	// TransportUnix reaches the guest agent through a Unix socket proxied by the shim.
	TransportUnix Transport = "unix"
	// TransportVsock reaches the guest agent with AF_VSOCK.
	TransportVsock Transport = "vsock"
)

// VMState represents the lifecycle state of a VM.
//
// The typical lifecycle is:
//
//	created -> starting -> running -> stopping -> stopped -> (removed)
//
// A VM that fails to boot or loses its machine ends crashed, crashed VMs can
// only be removed. Stopped VMs can be started again.
type VMState string

const (
	VMStateCreated  VMState = "created"
	VMStateStarting VMState = "starting"
	VMStateRunning  VMState = "running"
	VMStateStopping VMState = "stopping"
	VMStateStopped  VMState = "stopped"
	VMStateCrashed  VMState = "crashed"
)

// ExitReason tells how a VM run ended.
type ExitReason string

const (
	// ExitReasonExited is a guest whose initial process exited.
	ExitReasonExited ExitReason = "exited"
	// ExitReasonKilled is a VM terminated by kill, or by a stop that timed out.
	ExitReasonKilled ExitReason = "killed"
	// ExitReasonCrashed is a VM that failed to boot or lost its machine.
	ExitReasonCrashed ExitReason = "crashed"
)

// VM represents a VM returned by the SDK.
//
// This is a read-only snapshot of the VM at the time of the API call.
// Use [Client.GetVM] to get the latest state.
type VM struct {
	// ID is the unique identifier (ULID) assigned at creation.
	ID string
	// Name is the human-friendly name.
	Name string
	// State is the current lifecycle state.
	State VMState
	// Config is the configuration set at creation time.
	Config VMConfig
	// Exit is the status of the last run. Nil if the VM never stopped.
	Exit *ExitStatus
	// CreatedAt is when the VM was created.
	CreatedAt time.Time
	// StartedAt is when the VM was last started. Nil if never started.
	StartedAt *time.Time
	// StoppedAt is when the VM last stopped. Nil if never stopped.
	StoppedAt *time.Time
}

// VMConfig is the immutable configuration of a VM.
type VMConfig struct {
	Name      string
	VCPUs     int
	MemoryMiB int
	// RootFS is the directory used as the guest root filesystem.
	RootFS string
	// Image is the image reference the rootfs comes from, if any.
	Image string
	// Exec is the initial process of the VM, the VM stops when it exits.
	Exec ExecSpec
	// AutoRemove removes the VM once it stops.
	AutoRemove bool
}

// ExecSpec describes a process in the guest.
type ExecSpec struct {
	Path       string
	Args       []string
	Env        map[string]string
	WorkingDir string
}

// ExitStatus is the final status of a VM run.
type ExitStatus struct {
	// Code is the exit code of the initial process, 137 for killed VMs
	// and -1 for crashed ones.
	Code   int
	Reason ExitReason
	// Cause describes why a VM crashed.
	Cause string
}

// VMEvent is an entry of the lifecycle journal of a VM.
type VMEvent struct {
	From  VMState
	To    VMState
	Cause string
	At    time.Time
}

// CreateVMOpts configures VM creation.
//
// Exactly one of Image or Config.RootFS is required. With an image, the image
// entrypoint, environment and working dir are the defaults of Config.Exec.
type CreateVMOpts struct {
	// Config is the VM configuration. Zero VCPUs and MemoryMiB get defaults.
	Config VMConfig
	// Image is a Docker image reference (e.g. "alpine:3.20") imported as the rootfs.
	Image string
	// Pull pulls the image even if it's already local.
	Pull bool
	// StatusWriter receives the image pull progress. Nil means silent.
	StatusWriter io.Writer
}

// RunVMOpts configures a VM run.
type RunVMOpts struct {
	CreateVMOpts
	// Detach returns as soon as the VM is running instead of waiting for it to exit.
	Detach bool
}

// RunResult is the result of a VM run.
type RunResult struct {
	VM VM
	// Exit is the final status of attached runs. Nil for detached runs.
	Exit *ExitStatus
}

// ListVMsOpts configures VM listing.
//
// Pass nil to [Client.ListVMs] to list the active VMs.
type ListVMsOpts struct {
	// All lists every VM, not only the active ones.
	All bool
	// Filters are `key=value` filters (state, name, id, image), all must match.
	Filters []string
}

// ExecOpts configures command execution inside a VM.
//
// Pass nil to [Client.Exec] to use defaults (guest working dir, no extra env,
// discarded stdout/stderr).
type ExecOpts struct {
	// WorkingDir sets the working directory for the command inside the VM.
	WorkingDir string
	// Env contains additional environment variables for this execution only.
	Env map[string]string
	// Stdin is the standard input stream. Nil means no input.
	Stdin io.Reader
	// Stdout receives the command's standard output. Nil means output is discarded.
	Stdout io.Writer
	// Stderr receives the command's standard error. Nil means output is discarded.
	Stderr io.Writer
	// Tty allocates a pseudo-TTY for the command.
	Tty bool
	// Files are local file paths to upload into the VM before executing.
	// Files are uploaded to the working directory (WorkingDir) or "/" if unset.
	Files []string
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	// ExitCode is the exit status of the executed command.
	ExitCode int
}

// Image is a Docker image imported as a VM root filesystem.
type Image struct {
	// Ref is the normalized image reference.
	Ref string
	// Key identifies the image on disk, it can be used instead of Ref.
	Key    string
	Digest string
	// RootFS is the root filesystem directory VMs use.
	RootFS    string
	SizeBytes int64
	PulledAt  time.Time
	// Exec is the process the image runs by default.
	Exec ExecSpec
}

// PullImageOpts configures image pull behavior.
//
// Pass nil to [Client.PullImage] to use defaults (no force, no progress output).
type PullImageOpts struct {
	// Force pulls and imports the image even if it's already local.
	Force bool
	// StatusWriter receives progress output during the pull. Nil means silent.
	StatusWriter io.Writer
}

// CacheEntry is a cached root filesystem.
type CacheEntry struct {
	Key       string
	Ref       string
	Path      string
	SizeBytes int64
	// UsedBy lists the IDs of the VMs using the root filesystem.
	UsedBy []string
}

// Errors returned by the SDK, they can be checked with [errors.Is].
var (
	// ErrNotFound means the VM or image does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a VM with the same name already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid means the input is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidState means the operation is not allowed in the current VM state
	// (e.g. stopping a VM that is not running).
	ErrInvalidState = errors.New("invalid state")
	// ErrBoot means the VM could not be booted.
	ErrBoot = errors.New("boot failed")
)

// --- Internal conversion helpers ---

func toInternalVMConfig(c VMConfig) model.VMConfig {
	return model.VMConfig{
		Name:       c.Name,
		VCPUs:      c.VCPUs,
		MemoryMiB:  c.MemoryMiB,
		RootFS:     c.RootFS,
		Image:      c.Image,
		Exec:       toInternalExecSpec(c.Exec),
		AutoRemove: c.AutoRemove,
	}
}

func toInternalExecSpec(s ExecSpec) model.ExecSpec {
	return model.ExecSpec{
		Path:       s.Path,
		Args:       slices.Clone(s.Args),
		Env:        maps.Clone(s.Env),
		WorkingDir: s.WorkingDir,
	}
}

func toInternalExecOpts(opts *ExecOpts) model.ExecOpts {
	if opts == nil {
		return model.ExecOpts{}
	}

	return model.ExecOpts{
		WorkingDir: opts.WorkingDir,
		Env:        opts.Env,
		Stdin:      opts.Stdin,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
		Tty:        opts.Tty,
	}
}

func fromInternalExecSpec(s model.ExecSpec) ExecSpec {
	return ExecSpec{
		Path:       s.Path,
		Args:       slices.Clone(s.Args),
		Env:        maps.Clone(s.Env),
		WorkingDir: s.WorkingDir,
	}
}

func fromInternalExit(e *model.ExitStatus) *ExitStatus {
	if e == nil {
		return nil
	}
	return &ExitStatus{Code: e.Code, Reason: ExitReason(e.Reason), Cause: e.Cause}
}

func fromInternalVM(v model.VM) VM {
	return VM{
		ID:    v.ID,
		Name:  v.Name,
		State: VMState(v.State),
		Config: VMConfig{
			Name:       v.Config.Name,
			VCPUs:      v.Config.VCPUs,
			MemoryMiB:  v.Config.MemoryMiB,
			RootFS:     v.Config.RootFS,
			Image:      v.Config.Image,
			Exec:       fromInternalExecSpec(v.Config.Exec),
			AutoRemove: v.Config.AutoRemove,
		},
		Exit:      fromInternalExit(v.Exit),
		CreatedAt: v.CreatedAt,
		StartedAt: v.StartedAt,
		StoppedAt: v.StoppedAt,
	}
}

func fromInternalVMList(vs []model.VM) []VM {
	result := make([]VM, len(vs))
	for i, v := range vs {
		result[i] = fromInternalVM(v)
	}
	return result
}

func fromInternalEvents(es []model.VMEvent) []VMEvent {
	result := make([]VMEvent, len(es))
	for i, e := range es {
		result[i] = VMEvent{
			From:  VMState(e.From),
			To:    VMState(e.To),
			Cause: e.Cause,
			At:    e.At,
		}
	}
	return result
}

func fromInternalImage(i model.Image) Image {
	return Image{
		Ref:       i.Ref,
		Key:       i.Key,
		Digest:    i.Digest,
		RootFS:    i.RootFS,
		SizeBytes: i.SizeBytes,
		PulledAt:  i.PulledAt,
		Exec:      fromInternalExecSpec(i.DefaultExec()),
	}
}

func fromInternalImageList(is []model.Image) []Image {
	result := make([]Image, len(is))
	for i, img := range is {
		result[i] = fromInternalImage(img)
	}
	return result
}

func fromInternalCacheList(es []model.CacheEntry) []CacheEntry {
	result := make([]CacheEntry, len(es))
	for i, e := range es {
		result[i] = CacheEntry{
			Key:       e.Key,
			Ref:       e.Ref,
			Path:      e.Path,
			SizeBytes: e.SizeBytes,
			UsedBy:    slices.Clone(e.UsedBy),
		}
	}
	return result
}

var sentinels = []struct {
	internal error
	public   error
}{
	{model.ErrNotFound, ErrNotFound},
	{model.ErrAlreadyExists, ErrAlreadyExists},
	{model.ErrNotValid, ErrNotValid},
	{model.ErrInvalidState, ErrInvalidState},
	{model.ErrBoot, ErrBoot},
}

// mapError makes internal errors match the SDK sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	for _, s := range sentinels {
		if errors.Is(err, s.internal) {
			return &mappedError{original: err, sentinel: s.public}
		}
	}
	return err
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
