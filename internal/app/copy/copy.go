package copy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the copy service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Copy"})
	return nil
}

// Service handles file copy operations to/from VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new copy service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request contains the parameters for a copy operation.
type Request struct {
	Source      string // Source path (with optional vm: prefix)
	Destination string // Destination path (with optional vm: prefix)
}

// ParsedCopy contains the parsed copy operation details.
type ParsedCopy struct {
	VMRef      string // Name, ID or ID prefix of the VM
	LocalPath  string // Path on the host
	RemotePath string // Path in the VM
	ToVM       bool   // true = host->vm, false = vm->host
}

// splitGuestRef splits a `vm:path` argument. Host paths that are explicitly
// relative or absolute never refer to a VM, even if they contain a colon.
func splitGuestRef(s string) (ref, path string, ok bool) {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".") {
		return "", "", false
	}
	return strings.Cut(s, ":")
}

// ParseCopyArgs parses the source and destination arguments to determine
// the copy direction and extract the VM reference and paths.
func ParseCopyArgs(src, dst string) (*ParsedCopy, error) {
	srcRef, srcPath, srcIsVM := splitGuestRef(src)
	dstRef, dstPath, dstIsVM := splitGuestRef(dst)

	if srcIsVM && dstIsVM {
		return nil, fmt.Errorf("cannot copy between two VMs, one argument must be a local path: %w", model.ErrNotValid)
	}
	if !srcIsVM && !dstIsVM {
		return nil, fmt.Errorf("invalid syntax, one argument must specify a VM (e.g., my-vm:/path): %w", model.ErrNotValid)
	}

	if dstIsVM {
		// Host -> VM (CopyTo)
		if dstRef == "" || dstPath == "" {
			return nil, fmt.Errorf("invalid VM path format: %s (expected vm:/path): %w", dst, model.ErrNotValid)
		}
		return &ParsedCopy{
			VMRef:      dstRef,
			LocalPath:  src,
			RemotePath: dstPath,
			ToVM:       true,
		}, nil
	}

	// VM -> Host (CopyFrom)
	if srcRef == "" || srcPath == "" {
		return nil, fmt.Errorf("invalid VM path format: %s (expected vm:/path): %w", src, model.ErrNotValid)
	}
	return &ParsedCopy{
		VMRef:      srcRef,
		LocalPath:  dst,
		RemotePath: srcPath,
		ToVM:       false,
	}, nil
}

// Run executes a copy operation.
func (s *Service) Run(ctx context.Context, req Request) error {
	// 1. Parse arguments
	parsed, err := ParseCopyArgs(req.Source, req.Destination)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	// 2. Validate local path exists (only for host -> vm)
	if parsed.ToVM {
		if _, err := os.Stat(parsed.LocalPath); os.IsNotExist(err) {
			return fmt.Errorf("source path '%s' does not exist: %w", parsed.LocalPath, model.ErrNotFound)
		}
	}

	// 3. Execute copy operation
	if parsed.ToVM {
		s.logger.Infof("Copying %s to %s:%s", parsed.LocalPath, parsed.VMRef, parsed.RemotePath)
		if err := s.manager.CopyTo(ctx, parsed.VMRef, parsed.LocalPath, parsed.RemotePath); err != nil {
			return fmt.Errorf("could not copy to vm: %w", err)
		}
		return nil
	}

	s.logger.Infof("Copying %s:%s to %s", parsed.VMRef, parsed.RemotePath, parsed.LocalPath)
	if err := s.manager.CopyFrom(ctx, parsed.VMRef, parsed.RemotePath, parsed.LocalPath); err != nil {
		return fmt.Errorf("could not copy from vm: %w", err)
	}

	return nil
}
