// Package fake implements an in-process hypervisor. Machines run the real guest agent
// over in-memory pipes, backed by a scripted executor instead of real processes.
package fake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/slok/microbox/internal/agent"
	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/wire"
)

// ErrNotReady is returned when dialing a machine whose agent is not ready yet.
var ErrNotReady = errors.New("guest agent not ready")

// ErrMachineGone is the exit error of machines attached after they were gone.
var ErrMachineGone = errors.New("machine not found")

const firstPID = 1000

// HypervisorConfig is the configuration of the fake hypervisor.
type HypervisorConfig struct {
	// Executor runs the guest processes. Defaults to ScriptedExecutor.
	Executor agent.Executor
	// BootError makes every boot fail with it.
	BootError error
	// ReadyAfter delays the guest agent availability after boot.
	ReadyAfter time.Duration
	// NeverReady makes guests never accept connections.
	NeverReady bool
	// IgnoreStop makes guests acknowledge stop requests without shutting down.
	IgnoreStop bool
	// TerminateError makes machines refuse to be terminated with it.
	TerminateError error
	// GuestVersion makes guests answer the handshake with this protocol version.
	GuestVersion uint32
	Logger       log.Logger
}

func (c *HypervisorConfig) defaults() error {
	if c.Executor == nil {
		c.Executor = ScriptedExecutor{}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "hypervisor.Fake"})

	return nil
}

// Hypervisor is the fake hypervisor.
type Hypervisor struct {
	cfg HypervisorConfig

	mu       sync.Mutex
	nextPID  int
	machines map[int]*Machine
	byVM     map[string]*Machine
}

// NewHypervisor returns a new fake hypervisor.
func NewHypervisor(cfg HypervisorConfig) (*Hypervisor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Hypervisor{
		cfg:      cfg,
		nextPID:  firstPID,
		machines: map[int]*Machine{},
		byVM:     map[string]*Machine{},
	}, nil
}

func (h *Hypervisor) Boot(ctx context.Context, spec hypervisor.BootSpec) (hypervisor.Machine, error) {
	if h.cfg.BootError != nil {
		return nil, fmt.Errorf("%w: %w", hypervisor.ErrHypervisor, h.cfg.BootError)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	pid := h.nextPID
	h.nextPID++
	h.mu.Unlock()

	mctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		ref:     model.MachineRef{PID: pid, RunDir: spec.RunDir},
		cfg:     h.cfg,
		bootAt:  time.Now(),
		ctx:     mctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		console: &lockedBuffer{},
		logger:  h.cfg.Logger.WithValues(log.Kv{"vm-id": spec.VMID, "pid": pid}),
	}

	srv, err := agent.NewServer(agent.ServerConfig{
		Executor:   h.cfg.Executor,
		Root:       spec.RootFS,
		OnShutdown: m.shutdown,
		Logger:     m.logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create guest agent: %w", err)
	}
	m.agent = srv

	h.mu.Lock()
	h.machines[pid] = m
	h.byVM[spec.VMID] = m
	h.mu.Unlock()

	go func() {
		code := agent.RunInit(mctx, h.cfg.Executor, agent.ProcessFromExec(spec.Exec), agent.Stdio{Stdout: m.console, Stderr: m.console}, m.logger)
		m.finish(hypervisor.ExitStatus{Code: code})
	}()

	m.logger.Debugf("machine booted")
	return m, nil
}

func (h *Hypervisor) Attach(ctx context.Context, ref model.MachineRef) (hypervisor.Machine, error) {
	h.mu.Lock()
	m, ok := h.machines[ref.PID]
	h.mu.Unlock()
	if ok {
		return m, nil
	}

	gone := &Machine{
		ref:    ref,
		cancel: func() {},
		done:   make(chan struct{}),
		logger: h.cfg.Logger.WithValues(log.Kv{"pid": ref.PID}),
	}
	gone.finish(hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: ErrMachineGone})
	return gone, nil
}

// Machine returns the last machine booted for a VM, nil if none.
func (h *Hypervisor) Machine(vmID string) *Machine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byVM[vmID]
}

// Machine is a fake machine.
type Machine struct {
	ref     model.MachineRef
	cfg     HypervisorConfig
	agent   *agent.Server
	bootAt  time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	console *lockedBuffer
	logger  log.Logger

	mu     sync.Mutex
	conns  []net.Conn
	once   sync.Once
	done   chan struct{}
	status hypervisor.ExitStatus
}

func (m *Machine) Ref() model.MachineRef { return m.ref }

func (m *Machine) Dial(ctx context.Context) (net.Conn, error) {
	select {
	case <-m.done:
		return nil, fmt.Errorf("machine is gone: %w", net.ErrClosed)
	default:
	}
	if m.cfg.NeverReady || time.Since(m.bootAt) < m.cfg.ReadyAfter {
		return nil, ErrNotReady
	}

	host, guest := net.Pipe()
	m.mu.Lock()
	m.conns = append(m.conns, guest)
	m.mu.Unlock()

	if m.cfg.GuestVersion != 0 {
		go m.serveVersion(guest, m.cfg.GuestVersion)
		return host, nil
	}

	go func() {
		if err := m.agent.ServeConn(m.ctx, guest); err != nil {
			m.logger.Debugf("guest channel finished: %s", err)
		}
	}()
	return host, nil
}

// serveVersion answers the handshake with a fixed version and hangs up.
func (m *Machine) serveVersion(conn net.Conn, version uint32) {
	defer conn.Close()
	if _, err := wire.ReadFrame(conn); err != nil {
		return
	}
	payload, err := protocol.Encode(protocol.Handshake{Version: version})
	if err != nil {
		return
	}
	_ = wire.WriteFrame(conn, payload)
}

func (m *Machine) Terminate() error {
	if m.cfg.TerminateError != nil {
		return m.cfg.TerminateError
	}
	m.finish(hypervisor.ExitStatus{Code: model.KilledExitCode})
	return nil
}

func (m *Machine) Done() <-chan struct{} { return m.done }

func (m *Machine) ExitStatus() hypervisor.ExitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Crash simulates a hypervisor failure.
func (m *Machine) Crash(cause error) {
	m.finish(hypervisor.ExitStatus{Code: model.CrashedExitCode, Err: fmt.Errorf("%w: %w", hypervisor.ErrHypervisor, cause)})
}

// Corrupt writes an invalid frame on every open guest channel.
func (m *Machine) Corrupt() {
	m.mu.Lock()
	conns := append([]net.Conn{}, m.conns...)
	m.mu.Unlock()

	for _, c := range conns {
		go func() { _, _ = c.Write([]byte{0xff, 0xff, 0xff, 0xff}) }()
	}
}

// Console returns everything the initial process wrote.
func (m *Machine) Console() string {
	if m.console == nil {
		return ""
	}
	return m.console.String()
}

func (m *Machine) shutdown() {
	if m.cfg.IgnoreStop {
		m.logger.Debugf("ignoring stop request")
		return
	}
	m.cancel()
}

func (m *Machine) finish(status hypervisor.ExitStatus) {
	m.once.Do(func() {
		m.mu.Lock()
		m.status = status
		conns := m.conns
		m.conns = nil
		m.mu.Unlock()

		// Done goes first so broken channels are seen after the machine is gone.
		close(m.done)
		m.cancel()
		for _, c := range conns {
			_ = c.Close()
		}
		m.logger.Debugf("machine exited with %d", status.Code)
	})
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
