package lib

import (
	"context"
	"fmt"
	"os"

	appexec "github.com/slok/microbox/internal/app/exec"
)

// Exec executes a command inside a running VM and returns the result.
//
// The command must be non-empty. Use opts to configure working directory,
// environment variables, I/O streams and files to upload. Pass nil opts for
// defaults (guest working dir, no extra env, discarded output).
//
// Returns [ErrNotFound] if the VM does not exist, [ErrInvalidState] if it is
// not running, or [ErrNotValid] if the command is empty.
func (c *Client) Exec(ctx context.Context, ref string, command []string, opts *ExecOpts) (*ExecResult, error) {
	svc, err := appexec.NewService(appexec.ServiceConfig{
		Manager: c.manager,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	req := appexec.Request{
		Ref:     ref,
		Command: command,
		Opts:    toInternalExecOpts(opts),
	}
	if opts != nil {
		req.Files = opts.Files
	}

	result, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return &ExecResult{ExitCode: result.ExitCode}, nil
}

// CopyTo copies a local file or directory from the host into a running VM.
//
// Returns [ErrNotFound] if the VM or the source does not exist, or
// [ErrInvalidState] if the VM is not running.
func (c *Client) CopyTo(ctx context.Context, ref string, srcLocal, dstRemote string) error {
	if _, err := os.Stat(srcLocal); err != nil {
		return fmt.Errorf("source %q: %w", srcLocal, ErrNotFound)
	}

	if err := c.manager.CopyTo(ctx, ref, srcLocal, dstRemote); err != nil {
		return mapError(fmt.Errorf("could not copy to VM: %w", err))
	}
	return nil
}

// CopyFrom copies a file or directory from a running VM to the local host.
//
// Returns [ErrNotFound] if the VM or the source does not exist, or
// [ErrInvalidState] if the VM is not running.
func (c *Client) CopyFrom(ctx context.Context, ref string, srcRemote, dstLocal string) error {
	if err := c.manager.CopyFrom(ctx, ref, srcRemote, dstLocal); err != nil {
		return mapError(fmt.Errorf("could not copy from VM: %w", err))
	}
	return nil
}
