package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/microbox/internal/app/create"
	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Manager sandbox.Manager
	Images  image.Manager
	// StopTimeout is the graceful stop timeout used when an attached run is interrupted.
	StopTimeout time.Duration
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Images == nil {
		return fmt.Errorf("image manager is required")
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})
	return nil
}

// Service creates and starts VMs.
type Service struct {
	creator     *create.Service
	manager     sandbox.Manager
	stopTimeout time.Duration
	logger      log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	creator, err := create.NewService(create.ServiceConfig{
		Manager: cfg.Manager,
		Images:  cfg.Images,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create create service: %w", err)
	}

	return &Service{
		creator:     creator,
		manager:     cfg.Manager,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	create.CreateOptions
	// Detach returns as soon as the VM is running.
	Detach bool
}

// Result is the result of a run.
type Result struct {
	VM *model.VM
	// Exit is set on attached runs.
	Exit *model.ExitStatus
}

// Run creates and starts a VM. Attached runs block until the VM reaches a terminal state,
// if ctx is cancelled before that, the VM is stopped and its final status returned.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	vm, err := s.creator.Create(ctx, req.CreateOptions)
	if err != nil {
		return nil, err
	}

	if req.Detach {
		if err := s.manager.Start(ctx, vm.ID); err != nil {
			return &Result{VM: vm}, fmt.Errorf("could not start vm: %w", err)
		}
		return &Result{VM: vm}, nil
	}

	// The waiter is registered before the start so auto removed VMs can't vanish
	// before we get their exit status.
	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWait()
	type waitRes struct {
		exit *model.ExitStatus
		err  error
	}
	waitC := make(chan waitRes, 1)
	go func() {
		exit, err := s.manager.Wait(waitCtx, vm.ID)
		waitC <- waitRes{exit: exit, err: err}
	}()

	if err := s.manager.Start(ctx, vm.ID); err != nil {
		return &Result{VM: vm}, fmt.Errorf("could not start vm: %w", err)
	}
	s.logger.Debugf("VM %s running, waiting for it to finish", vm.ID)

	select {
	case res := <-waitC:
		if res.err != nil {
			return &Result{VM: vm}, fmt.Errorf("could not wait for vm: %w", res.err)
		}
		return &Result{VM: vm, Exit: res.exit}, nil
	case <-ctx.Done():
	}

	s.logger.Infof("Interrupted, stopping VM %s", vm.ID)
	err = s.manager.Stop(context.WithoutCancel(ctx), vm.ID, s.stopTimeout)
	if err != nil && !errors.Is(err, model.ErrInvalidState) {
		return &Result{VM: vm}, fmt.Errorf("could not stop vm: %w", err)
	}

	res := <-waitC
	if res.err != nil {
		return &Result{VM: vm}, fmt.Errorf("could not wait for vm: %w", res.err)
	}
	return &Result{VM: vm, Exit: res.exit}, nil
}
