// Package shim boots machines with an external VMM launcher (mbox-shim) that wraps the
// native hypervisor of the platform.
//
// The shim contract:
//
//	mbox-shim --vcpus N --memory-mib M --rootfs DIR --exit-file FILE
//	          (--socket PATH | --cid CID) [--env K=V]... [--workdir DIR] -- PATH [ARGS]...
//
// The shim exits with the exit code of the guest initial process, writing it to the exit file
// too, so detached callers can read it. Exit code 125 is reserved for hypervisor failures.
package shim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/zeebo/blake3"

	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
)

// Transport is how the host reaches the guest agent.
type Transport string

const (
	// TransportUnix maps the guest agent vsock port to a Unix socket in the run dir.
	TransportUnix Transport = "unix"
	// TransportVsock dials the guest agent with AF_VSOCK.
	TransportVsock Transport = "vsock"
)

const (
	// HypervisorFailureExitCode is the shim exit code for hypervisor failures.
	HypervisorFailureExitCode = 125

	defaultShimBinary = "mbox-shim"

	socketFile  = "agent.sock"
	pidFile     = "shim.pid"
	exitFile    = "exit"
	consoleFile = "console.log"

	// Vsock CIDs 0 to 2 are reserved.
	firstGuestCID = 3

	attachPollInterval = 250 * time.Millisecond
)

// ErrMachineGone is the exit error of machines attached after they were gone without an exit file.
var ErrMachineGone = errors.New("machine exited without status")

// HypervisorConfig is the configuration of the shim hypervisor.
type HypervisorConfig struct {
	// ShimPath is the shim binary, looked up in PATH when it's not a path.
	ShimPath  string
	Transport Transport
	Logger    log.Logger
}

func (c *HypervisorConfig) defaults() error {
	if c.ShimPath == "" {
		c.ShimPath = defaultShimBinary
	}

	if c.Transport == "" {
		c.Transport = TransportUnix
	}
	if c.Transport != TransportUnix && c.Transport != TransportVsock {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "hypervisor.Shim"})

	return nil
}

// Hypervisor boots machines with the shim binary.
type Hypervisor struct {
	shimPath  string
	transport Transport
	logger    log.Logger
}

// NewHypervisor returns a new shim hypervisor.
func NewHypervisor(cfg HypervisorConfig) (*Hypervisor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Hypervisor{
		shimPath:  cfg.ShimPath,
		transport: cfg.Transport,
		logger:    cfg.Logger,
	}, nil
}

// CIDFor returns the vsock context ID of a VM. It's stable for a VM ID.
func CIDFor(vmID string) uint32 {
	sum := blake3.Sum256([]byte(vmID))
	v := binary.BigEndian.Uint32(sum[:4])
	return firstGuestCID + v%(math.MaxUint32-firstGuestCID)
}

func (h *Hypervisor) Boot(ctx context.Context, spec hypervisor.BootSpec) (hypervisor.Machine, error) {
	if spec.RunDir == "" {
		return nil, fmt.Errorf("run dir is required: %w", model.ErrNotValid)
	}
	if err := os.MkdirAll(spec.RunDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create run dir: %w", err)
	}
	for _, f := range []string{socketFile, exitFile, pidFile} {
		if err := os.Remove(filepath.Join(spec.RunDir, f)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not clean run dir: %w", err)
		}
	}

	ref := model.MachineRef{RunDir: spec.RunDir}
	switch h.transport {
	case TransportVsock:
		ref.CID = CIDFor(spec.VMID)
	default:
		ref.SocketPath = filepath.Join(spec.RunDir, socketFile)
	}

	console, err := os.OpenFile(filepath.Join(spec.RunDir, consoleFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open console log: %w", err)
	}
	defer console.Close()

	cmd := exec.Command(h.shimPath, shimArgs(spec, ref)...)
	cmd.Stdout = console
	cmd.Stderr = console
	// The machine must outlive the CLI process that booted it.
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start shim: %w: %w", hypervisor.ErrHypervisor, err)
	}
	ref.PID = cmd.Process.Pid

	if err := os.WriteFile(filepath.Join(spec.RunDir, pidFile), []byte(strconv.Itoa(ref.PID)), 0644); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("could not write pid file: %w", err)
	}

	m := newMachine(h, ref, cmd.Process)
	go func() {
		waitErr := cmd.Wait()
		m.finish(m.statusFromExit(waitErr))
	}()

	h.logger.WithValues(log.Kv{"vm-id": spec.VMID, "pid": ref.PID}).Debugf("machine booted")
	return m, nil
}

func (h *Hypervisor) Attach(ctx context.Context, ref model.MachineRef) (hypervisor.Machine, error) {
	proc, err := os.FindProcess(ref.PID)
	if err != nil {
		return nil, fmt.Errorf("could not find machine process: %w", err)
	}

	m := newMachine(h, ref, proc)
	if !alive(proc) {
		m.finish(m.statusFromFile())
		return m, nil
	}

	go func() {
		t := time.NewTicker(attachPollInterval)
		defer t.Stop()
		for range t.C {
			if !alive(proc) {
				m.finish(m.statusFromFile())
				return
			}
		}
	}()

	return m, nil
}

func shimArgs(spec hypervisor.BootSpec, ref model.MachineRef) []string {
	args := []string{
		"--vcpus", strconv.Itoa(spec.VCPUs),
		"--memory-mib", strconv.Itoa(spec.MemoryMiB),
		"--rootfs", spec.RootFS,
		"--exit-file", filepath.Join(spec.RunDir, exitFile),
	}
	if ref.CID != 0 {
		args = append(args, "--cid", strconv.FormatUint(uint64(ref.CID), 10))
	} else {
		args = append(args, "--socket", ref.SocketPath)
	}

	env := make([]string, 0, len(spec.Exec.Env))
	for k, v := range spec.Exec.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	for _, kv := range env {
		args = append(args, "--env", kv)
	}
	if spec.Exec.WorkingDir != "" {
		args = append(args, "--workdir", spec.Exec.WorkingDir)
	}

	args = append(args, "--", spec.Exec.Path)
	return append(args, spec.Exec.Args...)
}

func alive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

// Machine is a machine run by a shim process.
type Machine struct {
	ref       model.MachineRef
	transport Transport
	proc      *os.Process
	logger    log.Logger

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	status hypervisor.ExitStatus
}

func newMachine(h *Hypervisor, ref model.MachineRef, proc *os.Process) *Machine {
	return &Machine{
		ref:       ref,
		transport: h.transport,
		proc:      proc,
		logger:    h.logger.WithValues(log.Kv{"pid": ref.PID}),
		done:      make(chan struct{}),
	}
}

func (m *Machine) Ref() model.MachineRef { return m.ref }

func (m *Machine) Dial(ctx context.Context) (net.Conn, error) {
	if m.ref.CID != 0 {
		// Vsock dials don't block waiting for a listener.
		conn, err := vsock.Dial(m.ref.CID, protocol.AgentPort, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", m.ref.SocketPath)
}

func (m *Machine) Terminate() error {
	select {
	case <-m.done:
		return nil
	default:
	}

	if err := m.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("could not kill machine: %w", err)
	}
	return nil
}

func (m *Machine) Done() <-chan struct{} { return m.done }

func (m *Machine) ExitStatus() hypervisor.ExitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) finish(status hypervisor.ExitStatus) {
	m.once.Do(func() {
		m.mu.Lock()
		m.status = status
		m.mu.Unlock()
		close(m.done)
		m.logger.Debugf("machine exited with %d", status.Code)
	})
}

// statusFromExit resolves the status of a machine we are the parent of.
func (m *Machine) statusFromExit(waitErr error) hypervisor.ExitStatus {
	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: fmt.Errorf("%w: %w", hypervisor.ErrHypervisor, waitErr)}
		}
		code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = 128 + int(ws.Signal())
		}
	}

	if code == HypervisorFailureExitCode {
		return hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: m.hypervisorError()}
	}
	if fileCode, err := readExitFile(m.ref.RunDir); err == nil {
		code = fileCode
	}
	return hypervisor.ExitStatus{Code: code}
}

// statusFromFile resolves the status of an attached machine.
func (m *Machine) statusFromFile() hypervisor.ExitStatus {
	code, err := readExitFile(m.ref.RunDir)
	if err != nil {
		return hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: ErrMachineGone}
	}
	if code == HypervisorFailureExitCode {
		return hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: m.hypervisorError()}
	}
	return hypervisor.ExitStatus{Code: code}
}

// hypervisorError returns a hypervisor failure with the last console line as cause.
func (m *Machine) hypervisorError() error {
	data, err := os.ReadFile(filepath.Join(m.ref.RunDir, consoleFile))
	if err != nil {
		return hypervisor.ErrHypervisor
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return hypervisor.ErrHypervisor
	}
	return fmt.Errorf("%w: %s", hypervisor.ErrHypervisor, last)
}

func readExitFile(runDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(runDir, exitFile))
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid exit file: %w", err)
	}
	return code, nil
}
