package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/microbox/internal/app/create"
	"github.com/slok/microbox/internal/app/kill"
	"github.com/slok/microbox/internal/app/list"
	"github.com/slok/microbox/internal/app/prune"
	"github.com/slok/microbox/internal/app/remove"
	"github.com/slok/microbox/internal/app/rename"
	"github.com/slok/microbox/internal/app/run"
	"github.com/slok/microbox/internal/app/start"
	"github.com/slok/microbox/internal/app/status"
	"github.com/slok/microbox/internal/app/stop"
	"github.com/slok/microbox/internal/app/wait"
)

func toInternalCreateOptions(opts CreateVMOpts) create.CreateOptions {
	return create.CreateOptions{
		Config:       toInternalVMConfig(opts.Config),
		Image:        opts.Image,
		Pull:         opts.Pull,
		StatusWriter: opts.StatusWriter,
	}
}

// CreateVM registers a new VM without starting it.
func (c *Client) CreateVM(ctx context.Context, opts CreateVMOpts) (*VM, error) {
	svc, err := create.NewService(create.ServiceConfig{
		Manager: c.manager,
		Images:  c.images,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Create(ctx, toInternalCreateOptions(opts))
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// RunVM creates and starts a VM.
//
// Unless opts.Detach is set, RunVM blocks until the VM stops and returns its exit
// status. Cancelling ctx stops the VM gracefully and still waits for it.
func (c *Client) RunVM(ctx context.Context, opts RunVMOpts) (*RunResult, error) {
	svc, err := run.NewService(run.ServiceConfig{
		Manager:     c.manager,
		Images:      c.images,
		StopTimeout: c.stopTimeout,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, run.Request{
		CreateOptions: toInternalCreateOptions(opts.CreateVMOpts),
		Detach:        opts.Detach,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return &RunResult{
		VM:   fromInternalVM(*res.VM),
		Exit: fromInternalExit(res.Exit),
	}, nil
}

// StartVM boots a created or stopped VM and returns once its guest agent answers.
func (c *Client) StartVM(ctx context.Context, ref string) (*VM, error) {
	svc, err := start.NewService(start.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Run(ctx, start.Request{Ref: ref})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// StopVM asks a running VM to shut down and kills it if it's still running after
// timeout. A zero timeout uses [Config].StopTimeout.
func (c *Client) StopVM(ctx context.Context, ref string, timeout time.Duration) (*VM, error) {
	if timeout <= 0 {
		timeout = c.stopTimeout
	}

	svc, err := stop.NewService(stop.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Run(ctx, stop.Request{Ref: ref, Timeout: timeout})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// KillVM terminates a VM immediately.
func (c *Client) KillVM(ctx context.Context, ref string) (*VM, error) {
	svc, err := kill.NewService(kill.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Run(ctx, kill.Request{Ref: ref})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// RemoveVM deregisters a stopped or crashed VM. With force, a VM that is still
// active is killed first.
func (c *Client) RemoveVM(ctx context.Context, ref string, force bool) (*VM, error) {
	svc, err := remove.NewService(remove.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Run(ctx, remove.Request{Ref: ref, Force: force})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// WaitVM blocks until the VM stops and returns its exit status. VMs that are
// already stopped return immediately.
func (c *Client) WaitVM(ctx context.Context, ref string) (*ExitStatus, error) {
	svc, err := wait.NewService(wait.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	exit, err := svc.Run(ctx, wait.Request{Ref: ref})
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalExit(exit), nil
}

// GetVM returns a VM by name, ID or unique ID prefix.
func (c *Client) GetVM(ctx context.Context, ref string) (*VM, error) {
	res, err := c.inspect(ctx, ref, false)
	if err != nil {
		return nil, err
	}

	result := fromInternalVM(*res.VM)
	return &result, nil
}

// VMEvents returns the lifecycle journal of a VM, oldest first.
func (c *Client) VMEvents(ctx context.Context, ref string) ([]VMEvent, error) {
	res, err := c.inspect(ctx, ref, true)
	if err != nil {
		return nil, err
	}

	return fromInternalEvents(res.Events), nil
}

func (c *Client) inspect(ctx context.Context, ref string, withEvents bool) (*status.Result, error) {
	svc, err := status.NewService(status.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, status.Request{Ref: ref, WithEvents: withEvents})
	if err != nil {
		return nil, mapError(err)
	}

	return res, nil
}

// ListVMs returns the VMs, newest first. Pass nil opts to list the active VMs.
func (c *Client) ListVMs(ctx context.Context, opts *ListVMsOpts) ([]VM, error) {
	req := list.Request{}
	if opts != nil {
		req.All = opts.All
		for _, f := range opts.Filters {
			pf, err := list.ParseFilter(f)
			if err != nil {
				return nil, mapError(err)
			}
			req.Filters = append(req.Filters, pf)
		}
	}

	svc, err := list.NewService(list.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vms, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalVMList(vms), nil
}

// RenameVM changes the name of a VM.
func (c *Client) RenameVM(ctx context.Context, ref, newName string) (*VM, error) {
	svc, err := rename.NewService(rename.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Run(ctx, rename.Request{Ref: ref, NewName: newName})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalVM(*vm)
	return &result, nil
}

// PruneVMs removes every stopped and crashed VM and returns their IDs. On error,
// the IDs removed until then are returned too.
func (c *Client) PruneVMs(ctx context.Context) ([]string, error) {
	svc, err := prune.NewService(prune.ServiceConfig{Manager: c.manager, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	ids, err := svc.Run(ctx)
	return ids, mapError(err)
}
