package exec

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the exec service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Exec"})
	return nil
}

// Service handles command execution in VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new exec service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request contains the parameters for executing a command.
type Request struct {
	Ref     string
	Command []string
	Opts    model.ExecOpts
	// Files are local file paths to upload into the VM before executing.
	// Files are uploaded to the working directory (Opts.WorkingDir) or "/" if unset.
	Files []string
}

// Run executes a command in a running VM.
func (s *Service) Run(ctx context.Context, req Request) (*model.ExecResult, error) {
	// 1. Validate command.
	if len(req.Command) == 0 || req.Command[0] == "" {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	// 2. Upload files before exec (if any).
	if len(req.Files) > 0 {
		destDir := req.Opts.WorkingDir
		if destDir == "" {
			destDir = "/"
		}

		// Validate all local files exist before doing any work.
		for _, f := range req.Files {
			if _, err := os.Stat(f); err != nil {
				return nil, fmt.Errorf("upload file %q does not exist: %w: %w", f, err, model.ErrNotValid)
			}
		}

		for _, f := range req.Files {
			remotePath := path.Join(destDir, filepath.Base(f))
			s.logger.Debugf("Uploading %s to %s:%s", f, req.Ref, remotePath)

			if err := s.manager.CopyTo(ctx, req.Ref, f, remotePath); err != nil {
				return nil, fmt.Errorf("could not upload file %q: %w", f, err)
			}
		}
	}

	// 3. Execute command.
	result, err := s.manager.Exec(ctx, req.Ref, req.Command, req.Opts)
	if err != nil {
		return nil, fmt.Errorf("could not execute command: %w", err)
	}

	s.logger.Debugf("executed command in VM %s: exit code %d", req.Ref, result.ExitCode)

	return result, nil
}
