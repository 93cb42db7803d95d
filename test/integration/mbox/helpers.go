package mbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/microbox/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	// ShimPath enables the tests that boot real VMs.
	ShimPath string
	// RootFS is the root filesystem directory of the real VMs.
	RootFS string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		return fmt.Errorf("mbox binary path is required (MBOX_INTEGRATION_BINARY)")
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("MBOX_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("mbox binary not found at %q: %w", c.Binary, err)
	}

	if c.ShimPath != "" && c.RootFS == "" {
		return fmt.Errorf("rootfs path is required with a shim (MBOX_INTEGRATION_ROOTFS)")
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "MBOX_INTEGRATION"
		envBinary     = "MBOX_INTEGRATION_BINARY"
		envShim       = "MBOX_INTEGRATION_SHIM"
		envRootFS     = "MBOX_INTEGRATION_ROOTFS"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary:   os.Getenv(envBinary),
		ShimPath: os.Getenv(envShim),
		RootFS:   os.Getenv(envRootFS),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RequireShim skips the test when no shim is configured.
func (c Config) RequireShim(t *testing.T) {
	t.Helper()
	if c.ShimPath == "" {
		t.Skip("Skipping real VM test: MBOX_INTEGRATION_SHIM is not set")
	}
}

// Env is an isolated mbox state.
type Env struct {
	Config     Config
	DataDir    string
	Hypervisor string
}

// NewFakeEnv returns an isolated state using the fake hypervisor. Fake VMs only
// live as long as the mbox process that starts them.
func NewFakeEnv(t *testing.T, config Config) Env {
	t.Helper()
	return Env{Config: config, DataDir: t.TempDir(), Hypervisor: "fake"}
}

// NewShimEnv returns an isolated state booting real VMs.
func NewShimEnv(t *testing.T, config Config) Env {
	t.Helper()
	config.RequireShim(t)
	return Env{Config: config, DataDir: t.TempDir(), Hypervisor: "shim"}
}

func (e Env) globalArgs() []string {
	return []string{"--no-log", "--data-dir", e.DataDir, "--hypervisor", e.Hypervisor, "--shim-path", e.shimPath()}
}

func (e Env) shimPath() string {
	if e.Config.ShimPath == "" {
		return "mbox-shim"
	}
	return e.Config.ShimPath
}

// Run runs an mbox command in the env, arguments are split by spaces.
func (e Env) Run(ctx context.Context, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("%s %s", joinArgs(e.globalArgs()), cmdArgs)
	return testutils.RunMbox(ctx, nil, e.Config.Binary, args, true)
}

// RunArgs runs an mbox command in the env with pre-split arguments.
func (e Env) RunArgs(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	return testutils.RunMboxArgs(ctx, nil, e.Config.Binary, append(e.globalArgs(), args...), true)
}

func joinArgs(args []string) string {
	result := ""
	for i, a := range args {
		if i > 0 {
			result += " "
		}
		result += a
	}
	return result
}
