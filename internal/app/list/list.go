package list

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Manager sandbox.Manager
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.List"})

	return nil
}

// Service lists VMs with optional filtering.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Filter selects VMs by one of their attributes.
type Filter struct {
	// Key is one of state, name, id (prefix) or image.
	Key   string
	Value string
}

// ParseFilter parses a `key=value` filter.
func ParseFilter(s string) (Filter, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || value == "" {
		return Filter{}, fmt.Errorf("invalid filter %q, expected key=value: %w", s, model.ErrNotValid)
	}

	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "status":
		key = "state"
	case "state", "name", "id", "image":
	default:
		return Filter{}, fmt.Errorf("unknown filter key %q: %w", key, model.ErrNotValid)
	}

	return Filter{Key: key, Value: strings.TrimSpace(value)}, nil
}

func (f Filter) match(vm model.VM) bool {
	switch f.Key {
	case "state":
		return string(vm.State) == f.Value
	case "name":
		return vm.Name == f.Value
	case "id":
		return strings.HasPrefix(vm.ID, strings.ToUpper(f.Value))
	case "image":
		return vm.Config.Image == f.Value
	}
	return true
}

// Request represents the list request parameters.
type Request struct {
	// All includes the VMs that are not active.
	All     bool
	Filters []Filter
}

// Run lists the VMs, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.VM, error) {
	s.logger.Debugf("listing VMs with filters: %v", req.Filters)

	vms, err := s.manager.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list vms: %w", err)
	}

	res := make([]model.VM, 0, len(vms))
	for _, vm := range vms {
		if !req.All && !vm.State.IsActive() {
			continue
		}
		if !slices.ContainsFunc(req.Filters, func(f Filter) bool { return !f.match(vm) }) {
			res = append(res, vm)
		}
	}

	slices.SortStableFunc(res, func(a, b model.VM) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	s.logger.Debugf("found %d VMs", len(res))
	return res, nil
}
