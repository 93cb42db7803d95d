package lib_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/pkg/lib"
)

// newTestClient creates a client with a temp SQLite DB and the fake hypervisor.
func newTestClient(t *testing.T) *lib.Client {
	t.Helper()

	dataDir := t.TempDir()
	client, err := lib.New(context.Background(), lib.Config{
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, "test.db"),
		Hypervisor: lib.HypervisorFake,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func vmConfig(t *testing.T, name string, command ...string) lib.VMConfig {
	t.Helper()

	if len(command) == 0 {
		command = []string{"/bin/sleep", "inf"}
	}
	return lib.VMConfig{
		Name:   name,
		RootFS: t.TempDir(),
		Exec:   lib.ExecSpec{Path: command[0], Args: command[1:]},
	}
}

func runDetached(t *testing.T, c *lib.Client, name string) *lib.VM {
	t.Helper()

	res, err := c.RunVM(context.Background(), lib.RunVMOpts{
		CreateVMOpts: lib.CreateVMOpts{Config: vmConfig(t, name)},
		Detach:       true,
	})
	require.NoError(t, err)
	return &res.VM
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		cfg   lib.Config
		expIs error
	}{
		"An in memory client with the fake hypervisor should work.": {
			cfg: lib.Config{InMemory: true, Hypervisor: lib.HypervisorFake},
		},

		"An unknown hypervisor should fail.": {
			cfg:   lib.Config{InMemory: true, Hypervisor: "qemu"},
			expIs: lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			test.cfg.DataDir = t.TempDir()
			client, err := lib.New(context.Background(), test.cfg)
			if test.expIs != nil {
				require.Error(err)
				require.ErrorIs(err, test.expIs)
				return
			}
			require.NoError(err)
			require.NoError(client.Close())
		})
	}
}

func TestCreateVM(t *testing.T) {
	tests := map[string]struct {
		opts  func(t *testing.T) lib.CreateVMOpts
		expIs error
	}{
		"Creating a VM with a rootfs should work.": {
			opts: func(t *testing.T) lib.CreateVMOpts {
				return lib.CreateVMOpts{Config: vmConfig(t, "test-vm")}
			},
		},

		"Creating a VM without rootfs and image should fail.": {
			opts: func(t *testing.T) lib.CreateVMOpts {
				return lib.CreateVMOpts{Config: lib.VMConfig{Name: "no-rootfs", Exec: lib.ExecSpec{Path: "/bin/true"}}}
			},
			expIs: lib.ErrNotValid,
		},

		"Creating a VM with a missing rootfs should fail.": {
			opts: func(t *testing.T) lib.CreateVMOpts {
				cfg := vmConfig(t, "missing-rootfs")
				cfg.RootFS = filepath.Join(cfg.RootFS, "missing")
				return lib.CreateVMOpts{Config: cfg}
			},
			expIs: lib.ErrNotValid,
		},

		"Creating a VM with too little memory should fail.": {
			opts: func(t *testing.T) lib.CreateVMOpts {
				cfg := vmConfig(t, "tiny")
				cfg.MemoryMiB = 64
				return lib.CreateVMOpts{Config: cfg}
			},
			expIs: lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			client := newTestClient(t)

			opts := test.opts(t)
			vm, err := client.CreateVM(context.Background(), opts)
			if test.expIs != nil {
				require.Error(err)
				assert.ErrorIs(err, test.expIs)
				return
			}

			require.NoError(err)
			assert.NotEmpty(vm.ID)
			assert.Equal(opts.Config.Name, vm.Name)
			assert.Equal(lib.VMStateCreated, vm.State)
			assert.Equal(1, vm.Config.VCPUs)
			assert.Equal(512, vm.Config.MemoryMiB)
			assert.False(vm.CreatedAt.IsZero())
		})
	}
}

func TestCreateVMDuplicate(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateVM(ctx, lib.CreateVMOpts{Config: vmConfig(t, "dup")})
	require.NoError(err)

	_, err = client.CreateVM(ctx, lib.CreateVMOpts{Config: vmConfig(t, "dup")})
	require.Error(err)
	require.ErrorIs(err, lib.ErrAlreadyExists)
}

func TestRunVMAttached(t *testing.T) {
	tests := map[string]struct {
		command []string
		expExit lib.ExitStatus
	}{
		"A successful init process should exit with 0.": {
			command: []string{"/bin/true"},
			expExit: lib.ExitStatus{Code: 0, Reason: lib.ExitReasonExited},
		},

		"The init process exit code should be the VM exit code.": {
			command: []string{"/bin/exit", "3"},
			expExit: lib.ExitStatus{Code: 3, Reason: lib.ExitReasonExited},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			client := newTestClient(t)

			res, err := client.RunVM(context.Background(), lib.RunVMOpts{
				CreateVMOpts: lib.CreateVMOpts{Config: vmConfig(t, "attached", test.command...)},
			})
			require.NoError(err)
			require.NotNil(res.Exit)
			assert.Equal(test.expExit, *res.Exit)

			vm, err := client.GetVM(context.Background(), res.VM.ID)
			require.NoError(err)
			assert.Equal(lib.VMStateStopped, vm.State)
		})
	}
}

func TestRunVMAutoRemove(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	cfg := vmConfig(t, "ephemeral", "/bin/exit", "7")
	cfg.AutoRemove = true
	res, err := client.RunVM(ctx, lib.RunVMOpts{CreateVMOpts: lib.CreateVMOpts{Config: cfg}})
	require.NoError(err)
	require.Equal(7, res.Exit.Code)

	require.Eventually(func() bool {
		_, err := client.GetVM(ctx, res.VM.ID)
		return errors.Is(err, lib.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVMLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	vm := runDetached(t, client, "lifecycle")
	assert.Equal(lib.VMStateRunning, vm.State)

	// Exec.
	var stdout bytes.Buffer
	res, err := client.Exec(ctx, "lifecycle", []string{"echo", "hello"}, &lib.ExecOpts{Stdout: &stdout})
	require.NoError(err)
	assert.Equal(0, res.ExitCode)
	assert.Equal("hello\n", stdout.String())

	// Stop.
	vm, err = client.StopVM(ctx, "lifecycle", time.Second)
	require.NoError(err)
	assert.Equal(lib.VMStateStopped, vm.State)
	require.NotNil(vm.Exit)
	assert.Equal(143, vm.Exit.Code)

	exit, err := client.WaitVM(ctx, vm.ID)
	require.NoError(err)
	assert.Equal(143, exit.Code)

	// Journal.
	events, err := client.VMEvents(ctx, vm.ID)
	require.NoError(err)
	var states []lib.VMState
	for _, e := range events {
		states = append(states, e.To)
	}
	assert.Equal([]lib.VMState{lib.VMStateCreated, lib.VMStateStarting, lib.VMStateRunning, lib.VMStateStopping, lib.VMStateStopped}, states)

	// Restart, kill and remove.
	_, err = client.StartVM(ctx, vm.ID)
	require.NoError(err)
	vm, err = client.KillVM(ctx, vm.ID)
	require.NoError(err)
	assert.Equal(137, vm.Exit.Code)
	assert.Equal(lib.ExitReasonKilled, vm.Exit.Reason)

	_, err = client.RemoveVM(ctx, vm.ID, false)
	require.NoError(err)
	_, err = client.GetVM(ctx, vm.ID)
	assert.ErrorIs(err, lib.ErrNotFound)
}

func TestInvalidStateOperations(t *testing.T) {
	tests := map[string]struct {
		running bool
		action  func(c *lib.Client, ref string) error
	}{
		"Stopping a created VM should fail.": {
			action: func(c *lib.Client, ref string) error {
				_, err := c.StopVM(context.Background(), ref, time.Second)
				return err
			},
		},

		"Executing in a created VM should fail.": {
			action: func(c *lib.Client, ref string) error {
				_, err := c.Exec(context.Background(), ref, []string{"echo"}, nil)
				return err
			},
		},

		"Starting a running VM should fail.": {
			running: true,
			action: func(c *lib.Client, ref string) error {
				_, err := c.StartVM(context.Background(), ref)
				return err
			},
		},

		"Removing a running VM without force should fail.": {
			running: true,
			action: func(c *lib.Client, ref string) error {
				_, err := c.RemoveVM(context.Background(), ref, false)
				return err
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			client := newTestClient(t)

			if test.running {
				runDetached(t, client, "target")
			} else {
				_, err := client.CreateVM(context.Background(), lib.CreateVMOpts{Config: vmConfig(t, "target")})
				require.NoError(err)
			}

			err := test.action(client, "target")
			require.Error(err)
			require.ErrorIs(err, lib.ErrInvalidState)
		})
	}
}

func TestRemoveVMForce(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	vm := runDetached(t, client, "forced")
	_, err := client.RemoveVM(ctx, "forced", true)
	require.NoError(err)

	_, err = client.GetVM(ctx, vm.ID)
	require.ErrorIs(err, lib.ErrNotFound)
}

func TestListVMs(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	runDetached(t, client, "running-1")
	_, err := client.CreateVM(ctx, lib.CreateVMOpts{Config: vmConfig(t, "created-1")})
	require.NoError(t, err)

	tests := map[string]struct {
		opts     *lib.ListVMsOpts
		expNames []string
		expIs    error
	}{
		"Without options only the active VMs should be listed.": {
			expNames: []string{"running-1"},
		},

		"Listing all should return every VM, newest first.": {
			opts:     &lib.ListVMsOpts{All: true},
			expNames: []string{"created-1", "running-1"},
		},

		"Filtering by state should work.": {
			opts:     &lib.ListVMsOpts{All: true, Filters: []string{"state=created"}},
			expNames: []string{"created-1"},
		},

		"An unknown filter should fail.": {
			opts:  &lib.ListVMsOpts{Filters: []string{"color=red"}},
			expIs: lib.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			vms, err := client.ListVMs(ctx, test.opts)
			if test.expIs != nil {
				require.ErrorIs(err, test.expIs)
				return
			}
			require.NoError(err)

			var names []string
			for _, vm := range vms {
				names = append(names, vm.Name)
			}
			assert.Equal(test.expNames, names)
		})
	}
}

func TestRenameVM(t *testing.T) {
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateVM(ctx, lib.CreateVMOpts{Config: vmConfig(t, "old")})
	require.NoError(err)
	_, err = client.CreateVM(ctx, lib.CreateVMOpts{Config: vmConfig(t, "taken")})
	require.NoError(err)

	_, err = client.RenameVM(ctx, "old", "taken")
	require.ErrorIs(err, lib.ErrAlreadyExists)

	vm, err := client.RenameVM(ctx, "old", "new")
	require.NoError(err)
	require.Equal("new", vm.Name)
}

func TestPruneVMs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	res, err := client.RunVM(ctx, lib.RunVMOpts{CreateVMOpts: lib.CreateVMOpts{Config: vmConfig(t, "done", "/bin/true")}})
	require.NoError(err)
	running := runDetached(t, client, "alive")

	ids, err := client.PruneVMs(ctx)
	require.NoError(err)
	assert.Equal([]string{res.VM.ID}, ids)

	_, err = client.GetVM(ctx, running.ID)
	assert.NoError(err)
}

func TestCopy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	client := newTestClient(t)
	ctx := context.Background()

	runDetached(t, client, "files")

	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(client.CopyTo(ctx, "files", src, "/in.txt"))

	dst := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(client.CopyFrom(ctx, "files", "/in.txt", dst))

	got, err := os.ReadFile(dst)
	require.NoError(err)
	assert.Equal("payload", string(got))

	err = client.CopyTo(ctx, "files", filepath.Join(t.TempDir(), "missing"), "/tmp/x")
	assert.ErrorIs(err, lib.ErrNotFound)
}
