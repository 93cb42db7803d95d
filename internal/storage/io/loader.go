package io

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/slok/microbox/internal/model"
)

// VMDefinition is a VM configuration loaded from a file.
type VMDefinition struct {
	Config model.VMConfig
	// Image is set when the rootfs must be resolved from an image.
	Image string
}

// ConfigYAMLRepository loads VM definitions from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetVMDefinition loads a VM definition from a YAML file. Missing resources are left
// empty so the caller defaults (or flags) apply.
func (r *ConfigYAMLRepository) GetVMDefinition(ctx context.Context, path string) (*VMDefinition, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var cfg VMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	def, err := cfg.toModel()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w: %w", err, model.ErrNotValid)
	}

	return def, nil
}

// VMConfig represents the YAML structure for a VM definition.
type VMConfig struct {
	Name       string          `yaml:"name"`
	Image      string          `yaml:"image"`
	RootFS     string          `yaml:"rootfs"`
	Resources  ResourcesConfig `yaml:"resources"`
	Exec       ExecConfig      `yaml:"exec"`
	AutoRemove bool            `yaml:"auto_remove"`
}

// ResourcesConfig represents the YAML structure for resource configuration.
type ResourcesConfig struct {
	VCPUs int `yaml:"vcpus"`
	// Memory is a human size (e.g. 512MiB, 1g).
	Memory string `yaml:"memory"`
}

// ExecConfig represents the YAML structure of the initial process.
type ExecConfig struct {
	Command    []string          `yaml:"command"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
}

func (c VMConfig) toModel() (*VMDefinition, error) {
	if c.Image != "" && c.RootFS != "" {
		return nil, fmt.Errorf("image and rootfs can't be used together")
	}
	if c.Resources.VCPUs < 0 {
		return nil, fmt.Errorf("vcpus must be positive, got: %d", c.Resources.VCPUs)
	}

	memMiB := 0
	if c.Resources.Memory != "" {
		b, err := units.RAMInBytes(c.Resources.Memory)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		if b <= 0 {
			return nil, fmt.Errorf("memory must be positive, got: %s", c.Resources.Memory)
		}
		memMiB = int(b / units.MiB)
	}

	def := &VMDefinition{
		Image: c.Image,
		Config: model.VMConfig{
			Name:       c.Name,
			VCPUs:      c.Resources.VCPUs,
			MemoryMiB:  memMiB,
			RootFS:     c.RootFS,
			AutoRemove: c.AutoRemove,
			Exec: model.ExecSpec{
				Env:        c.Exec.Env,
				WorkingDir: c.Exec.WorkingDir,
			},
		},
	}
	if len(c.Exec.Command) > 0 {
		def.Config.Exec.Path = c.Exec.Command[0]
		def.Config.Exec.Args = c.Exec.Command[1:]
	}

	return def, nil
}
