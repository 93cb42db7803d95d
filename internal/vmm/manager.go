// Package vmm implements the VM lifecycle manager: the registry of VMs and the single
// authority allowed to change their state.
package vmm

import (
	"cmp"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/metrics"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
	"github.com/slok/microbox/internal/session"
	"github.com/slok/microbox/internal/storage"
)

const (
	DefaultStopTimeout    = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second

	defaultDialInterval = 50 * time.Millisecond
	nameSuffixLen       = 8
)

var nameRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ManagerConfig is the configuration of the VM manager.
type ManagerConfig struct {
	Hypervisor hypervisor.Hypervisor
	Repository storage.Repository
	Metrics    metrics.Recorder
	Logger     log.Logger
	// DataDir holds the VM run directories.
	DataDir string
	// StopTimeout is used by stops without timeout.
	StopTimeout time.Duration
	// ConnectTimeout bounds how long a booting guest has to accept the channel.
	ConnectTimeout time.Duration
	// DialInterval is the wait between guest dial attempts while booting.
	DialInterval time.Duration
	MinMemoryMiB int
}

func (c *ManagerConfig) defaults() error {
	if c.Hypervisor == nil {
		return fmt.Errorf("hypervisor is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "vmm.Manager"})

	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.DialInterval <= 0 {
		c.DialInterval = defaultDialInterval
	}

	if c.MinMemoryMiB <= 0 {
		c.MinMemoryMiB = model.MinMemoryMiB
	}

	return nil
}

var _ sandbox.Manager = (*Manager)(nil)

// Manager is the VM lifecycle manager. It's safe for concurrent use.
type Manager struct {
	hv             hypervisor.Hypervisor
	repo           storage.Repository
	metrics        metrics.Recorder
	logger         log.Logger
	dataDir        string
	stopTimeout    time.Duration
	connectTimeout time.Duration
	dialInterval   time.Duration
	minMemoryMiB   int

	mu  sync.RWMutex
	vms map[string]*instance
}

// instance is a registered VM.
type instance struct {
	// opMu serializes the lifecycle transitions of the VM.
	opMu sync.Mutex
	// chanMu allows a single channel negotiation in flight.
	chanMu sync.Mutex

	mu      sync.Mutex
	vm      model.VM
	machine hypervisor.Machine
	mux     *session.Mux
	// gen identifies the machine of the current run, stale watchers must not finalize newer runs.
	gen    uint64
	killed bool
	run    *runState
}

// runState is the outcome of one run of a VM.
type runState struct {
	// done is closed once the run reaches a terminal state, exit is set before.
	done chan struct{}
	exit model.ExitStatus
}

func newInstance(vm model.VM) *instance {
	inst := &instance{vm: vm, run: &runState{done: make(chan struct{})}}
	if vm.State.IsTerminal() {
		if vm.Exit != nil {
			inst.run.exit = *vm.Exit
		}
		close(inst.run.done)
	}
	return inst
}

// NewManager returns a new VM manager. Persisted VMs are loaded and their machines reattached.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		hv:             cfg.Hypervisor,
		repo:           cfg.Repository,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		dataDir:        cfg.DataDir,
		stopTimeout:    cfg.StopTimeout,
		connectTimeout: cfg.ConnectTimeout,
		dialInterval:   cfg.DialInterval,
		minMemoryMiB:   cfg.MinMemoryMiB,
		vms:            map[string]*instance{},
	}

	if err := m.load(ctx); err != nil {
		return nil, fmt.Errorf("could not load vms: %w", err)
	}

	return m, nil
}

// Close releases the guest channels. Machines keep running.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.vms {
		inst.mu.Lock()
		mux := inst.mux
		inst.mux = nil
		inst.mu.Unlock()
		if mux != nil {
			_ = mux.Close()
		}
	}
	return nil
}

func (m *Manager) Create(ctx context.Context, cfg model.VMConfig) (*model.VM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MemoryMiB < m.minMemoryMiB {
		return nil, fmt.Errorf("memory must be at least %d MiB: %w", m.minMemoryMiB, model.ErrNotValid)
	}
	if err := checkRootFS(cfg.RootFS); err != nil {
		return nil, err
	}

	id := newID()
	if cfg.Name == "" {
		cfg.Name = "vm-" + strings.ToLower(id[len(id)-nameSuffixLen:])
	}
	if !nameRegexp.MatchString(cfg.Name) {
		return nil, fmt.Errorf("invalid vm name %q: %w", cfg.Name, model.ErrNotValid)
	}

	vm := model.VM{
		ID:        id,
		Name:      cfg.Name,
		State:     model.VMStateCreated,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTakenLocked(vm.Name, "") {
		return nil, fmt.Errorf("vm name %q is in use: %w", vm.Name, model.ErrAlreadyExists)
	}
	if err := m.repo.CreateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("could not store vm: %w", err)
	}

	inst := newInstance(vm)
	m.vms[vm.ID] = inst
	m.journal(ctx, vm.ID, "", model.VMStateCreated, "")

	m.logger.WithValues(log.Kv{"vm-id": vm.ID, "vm-name": vm.Name}).Infof("VM created")

	c := vm.Copy()
	return &c, nil
}

func (m *Manager) Get(ctx context.Context, ref string) (*model.VM, error) {
	inst, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	vm := inst.vm.Copy()
	return &vm, nil
}

// List returns every registered VM, newest first.
func (m *Manager) List(ctx context.Context) ([]model.VM, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vms := make([]model.VM, 0, len(m.vms))
	for _, inst := range m.vms {
		inst.mu.Lock()
		vms = append(vms, inst.vm.Copy())
		inst.mu.Unlock()
	}
	slices.SortFunc(vms, func(a, b model.VM) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	return vms, nil
}

func (m *Manager) Events(ctx context.Context, ref string) ([]model.VMEvent, error) {
	inst, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	id := inst.vm.ID
	inst.mu.Unlock()

	events, err := m.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}
	return events, nil
}

func (m *Manager) Rename(ctx context.Context, ref string, name string) (*model.VM, error) {
	if !nameRegexp.MatchString(name) {
		return nil, fmt.Errorf("invalid vm name %q: %w", name, model.ErrNotValid)
	}

	// The registry lock keeps names unique while renaming.
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := m.lookupLocked(ref)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.vm.State == model.VMStateRemoved {
		return nil, fmt.Errorf("vm %s is removed: %w", inst.vm.ID, model.ErrInvalidState)
	}
	if inst.vm.Name == name {
		vm := inst.vm.Copy()
		return &vm, nil
	}
	if m.nameTakenLocked(name, inst.vm.ID) {
		return nil, fmt.Errorf("vm name %q is in use: %w", name, model.ErrAlreadyExists)
	}

	renamed := inst.vm.Copy()
	renamed.Name = name
	renamed.Config.Name = name
	if err := m.repo.UpdateVM(ctx, renamed); err != nil {
		return nil, fmt.Errorf("could not store vm: %w", err)
	}
	inst.vm = renamed

	vm := renamed.Copy()
	return &vm, nil
}

func (m *Manager) Remove(ctx context.Context, ref string) error {
	inst, err := m.lookup(ref)
	if err != nil {
		return err
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	return m.remove(ctx, inst)
}

// remove requires the instance transition lock.
func (m *Manager) remove(ctx context.Context, inst *instance) error {
	inst.mu.Lock()
	vm := inst.vm
	if vm.State != model.VMStateStopped && vm.State != model.VMStateCrashed {
		inst.mu.Unlock()
		return &model.TransitionError{VMID: vm.ID, Op: "remove", From: vm.State, Err: model.ErrInvalidState}
	}
	inst.vm.State = model.VMStateRemoved
	inst.mu.Unlock()

	if err := m.repo.DeleteVM(ctx, vm.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		inst.mu.Lock()
		inst.vm.State = vm.State
		inst.mu.Unlock()
		return &model.TransitionError{VMID: vm.ID, Op: "remove", From: vm.State, Err: err}
	}

	m.mu.Lock()
	delete(m.vms, vm.ID)
	m.mu.Unlock()

	if err := os.RemoveAll(conventions.VMDir(m.dataDir, vm.ID)); err != nil {
		m.logger.Warningf("could not remove vm %s run dir: %s", vm.ID, err)
	}

	m.metrics.ObserveVMTransition(vm.State, model.VMStateRemoved)
	m.logger.WithValues(log.Kv{"vm-id": vm.ID, "vm-name": vm.Name}).Infof("VM removed")

	return nil
}

func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	candidates := make([]*instance, 0, len(m.vms))
	for _, inst := range m.vms {
		candidates = append(candidates, inst)
	}
	m.mu.RUnlock()

	var removed []string
	var errs []error
	for _, inst := range candidates {
		inst.opMu.Lock()
		inst.mu.Lock()
		id, state := inst.vm.ID, inst.vm.State
		inst.mu.Unlock()

		if state == model.VMStateStopped || state == model.VMStateCrashed {
			if err := m.remove(ctx, inst); err != nil {
				errs = append(errs, err)
			} else {
				removed = append(removed, id)
			}
		}
		inst.opMu.Unlock()
	}
	slices.Sort(removed)

	return removed, errors.Join(errs...)
}

// lookup resolves a VM reference by name, exact ID or unique ID prefix.
func (m *Manager) lookup(ref string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(ref)
}

func (m *Manager) lookupLocked(ref string) (*instance, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty vm reference: %w", model.ErrNotFound)
	}

	for _, inst := range m.vms {
		inst.mu.Lock()
		name := inst.vm.Name
		inst.mu.Unlock()
		if name == ref {
			return inst, nil
		}
	}

	if inst, ok := m.vms[ref]; ok {
		return inst, nil
	}

	var found *instance
	for id, inst := range m.vms {
		if !strings.HasPrefix(id, strings.ToUpper(ref)) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("vm reference %q matches multiple vms: %w", ref, model.ErrNotValid)
		}
		found = inst
	}
	if found == nil {
		return nil, fmt.Errorf("vm %s: %w", ref, model.ErrNotFound)
	}

	return found, nil
}

func (m *Manager) nameTakenLocked(name, exceptID string) bool {
	for id, inst := range m.vms {
		if id == exceptID {
			continue
		}
		inst.mu.Lock()
		taken := inst.vm.Name == name
		inst.mu.Unlock()
		if taken {
			return true
		}
	}
	return false
}

// journal records a state transition of a VM.
func (m *Manager) journal(ctx context.Context, vmID string, from, to model.VMState, cause string) {
	if from != "" {
		m.metrics.ObserveVMTransition(from, to)
	}

	e := model.VMEvent{ID: newID(), VMID: vmID, From: from, To: to, Cause: cause, At: time.Now().UTC()}
	if err := m.repo.AppendEvent(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Warningf("could not journal vm %s transition %s -> %s: %s", vmID, from, to, err)
	}
}

func checkRootFS(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("rootfs %q: %w: %w", path, model.ErrNotValid, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rootfs %q is not a directory: %w", path, model.ErrNotValid)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rootfs %q is not readable: %w: %w", path, model.ErrNotValid, err)
	}
	_ = f.Close()
	return nil
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
