package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	vms    map[string]model.VM
	events map[string][]model.VMEvent
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		vms:    make(map[string]model.VM),
		events: make(map[string][]model.VMEvent),
		logger: cfg.Logger,
	}, nil
}

func (r *Repository) CreateVM(ctx context.Context, vm model.VM) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[vm.ID]; ok {
		return fmt.Errorf("vm with id %s: %w", vm.ID, model.ErrAlreadyExists)
	}
	if r.nameTaken(vm.Name, vm.ID) {
		return fmt.Errorf("vm with name %s: %w", vm.Name, model.ErrAlreadyExists)
	}

	r.vms[vm.ID] = vm.Copy()
	r.logger.Debugf("Created vm in repository: %s", vm.ID)

	return nil
}

func (r *Repository) GetVM(ctx context.Context, id string) (*model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
	}
	c := vm.Copy()
	return &c, nil
}

func (r *Repository) GetVMByName(ctx context.Context, name string) (*model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, vm := range r.vms {
		if vm.Name == name {
			c := vm.Copy()
			return &c, nil
		}
	}

	return nil, fmt.Errorf("vm with name %s: %w", name, model.ErrNotFound)
}

// ListVMs returns all VMs, newest first.
func (r *Repository) ListVMs(ctx context.Context) ([]model.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vms := make([]model.VM, 0, len(r.vms))
	for _, vm := range r.vms {
		vms = append(vms, vm.Copy())
	}
	slices.SortFunc(vms, func(a, b model.VM) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	return vms, nil
}

func (r *Repository) UpdateVM(ctx context.Context, vm model.VM) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[vm.ID]; !ok {
		return fmt.Errorf("vm %s: %w", vm.ID, model.ErrNotFound)
	}
	if r.nameTaken(vm.Name, vm.ID) {
		return fmt.Errorf("vm with name %s: %w", vm.Name, model.ErrAlreadyExists)
	}

	r.vms[vm.ID] = vm.Copy()
	r.logger.Debugf("Updated vm in repository: %s", vm.ID)

	return nil
}

func (r *Repository) DeleteVM(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[id]; !ok {
		return fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
	}

	delete(r.vms, id)
	delete(r.events, id)
	r.logger.Debugf("Deleted vm from repository: %s", id)

	return nil
}

func (r *Repository) AppendEvent(ctx context.Context, e model.VMEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vms[e.VMID]; !ok {
		return fmt.Errorf("vm %s: %w", e.VMID, model.ErrNotFound)
	}
	r.events[e.VMID] = append(r.events[e.VMID], e)

	return nil
}

func (r *Repository) ListEvents(ctx context.Context, vmID string) ([]model.VMEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.events[vmID]), nil
}

func (r *Repository) nameTaken(name, exceptID string) bool {
	for id, vm := range r.vms {
		if id != exceptID && vm.Name == name {
			return true
		}
	}
	return false
}
