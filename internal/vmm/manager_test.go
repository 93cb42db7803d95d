package vmm_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/hypervisor/fake"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/storage/memory"
	"github.com/slok/microbox/internal/storage/storagemock"
	"github.com/slok/microbox/internal/vmm"
)

type testEnv struct {
	mgr     *vmm.Manager
	hv      *fake.Hypervisor
	repo    *memory.Repository
	rootfs  string
	dataDir string
}

func newTestEnv(t *testing.T, hvCfg fake.HypervisorConfig, mutate func(cfg *vmm.ManagerConfig)) *testEnv {
	t.Helper()

	hv, err := fake.NewHypervisor(hvCfg)
	require.NoError(t, err)
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	env := &testEnv{hv: hv, repo: repo, rootfs: t.TempDir(), dataDir: t.TempDir()}
	env.mgr = env.newManager(t, hv, mutate)
	return env
}

func (e *testEnv) newManager(t *testing.T, hv *fake.Hypervisor, mutate func(cfg *vmm.ManagerConfig)) *vmm.Manager {
	t.Helper()

	cfg := vmm.ManagerConfig{
		Hypervisor:     hv,
		Repository:     e.repo,
		DataDir:        e.dataDir,
		ConnectTimeout: 2 * time.Second,
		DialInterval:   5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := vmm.NewManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func (e *testEnv) config(name string, command ...string) model.VMConfig {
	if len(command) == 0 {
		command = []string{"/bin/sleep", "inf"}
	}
	return model.VMConfig{
		Name:      name,
		VCPUs:     1,
		MemoryMiB: 256,
		RootFS:    e.rootfs,
		Exec:      model.ExecSpec{Path: command[0], Args: command[1:]},
	}
}

func (e *testEnv) run(t *testing.T, name string, command ...string) *model.VM {
	t.Helper()
	vm, err := e.mgr.Create(context.Background(), e.config(name, command...))
	require.NoError(t, err)
	require.NoError(t, e.mgr.Start(context.Background(), vm.ID))
	return vm
}

func (e *testEnv) state(t *testing.T, ref string) model.VMState {
	t.Helper()
	vm, err := e.mgr.Get(context.Background(), ref)
	require.NoError(t, err)
	return vm.State
}

func (e *testEnv) eventually(t *testing.T, ref string, exp model.VMState) {
	t.Helper()
	require.Eventually(t, func() bool {
		vm, err := e.mgr.Get(context.Background(), ref)
		return err == nil && vm.State == exp
	}, 3*time.Second, 5*time.Millisecond)
}

func TestManagerCreate(t *testing.T) {
	rootfsFile := filepath.Join(t.TempDir(), "rootfs.ext4")
	require.NoError(t, os.WriteFile(rootfsFile, nil, 0644))

	tests := map[string]struct {
		mutate  func(cfg *model.VMConfig)
		expName string
		expErr  error
	}{
		"A valid config should create a VM.": {
			expName: "vm-1",
		},
		"A missing name should be generated.": {
			mutate:  func(cfg *model.VMConfig) { cfg.Name = "" },
			expName: "vm-",
		},
		"Zero vcpus should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.VCPUs = 0 },
			expErr: model.ErrNotValid,
		},
		"Memory under the minimum should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.MemoryMiB = 64 },
			expErr: model.ErrNotValid,
		},
		"A missing rootfs should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.RootFS = "/does/not/exist" },
			expErr: model.ErrNotValid,
		},
		"A rootfs that is not a directory should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.RootFS = rootfsFile },
			expErr: model.ErrNotValid,
		},
		"A missing exec path should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.Exec.Path = "" },
			expErr: model.ErrNotValid,
		},
		"An invalid name should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.Name = "-bad name" },
			expErr: model.ErrNotValid,
		},
		"A name in use should fail.": {
			mutate: func(cfg *model.VMConfig) { cfg.Name = "taken" },
			expErr: model.ErrAlreadyExists,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			_, err := env.mgr.Create(context.Background(), env.config("taken"))
			require.NoError(err)

			cfg := env.config("vm-1")
			if test.mutate != nil {
				test.mutate(&cfg)
			}
			vm, err := env.mgr.Create(context.Background(), cfg)

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			assert.True(strings.HasPrefix(vm.Name, test.expName))
			assert.Equal(model.VMStateCreated, vm.State)
			assert.NotEmpty(vm.ID)

			stored, err := env.repo.GetVM(context.Background(), vm.ID)
			require.NoError(err)
			assert.Equal(vm.Name, stored.Name)
		})
	}
}

func TestManagerRunLifecycle(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	vm := env.run(t, "web")
	assert.Equal(model.VMStateRunning, env.state(t, "web"))

	got, err := env.mgr.Get(ctx, "web")
	require.NoError(err)
	require.NotNil(got.Machine)
	require.NotNil(got.StartedAt)

	var out strings.Builder
	res, err := env.mgr.Exec(ctx, "web", []string{"/bin/echo", "hi"}, model.ExecOpts{Stdout: &out})
	require.NoError(err)
	assert.Equal(0, res.ExitCode)
	assert.Equal("hi\n", out.String())

	require.NoError(env.mgr.Stop(ctx, "web", time.Second))

	got, err = env.mgr.Get(ctx, vm.ID)
	require.NoError(err)
	assert.Equal(model.VMStateStopped, got.State)
	assert.Nil(got.Machine)
	require.NotNil(got.Exit)
	assert.Equal(model.ExitReasonExited, got.Exit.Reason)
	assert.Equal(143, got.Exit.Code)

	events, err := env.mgr.Events(ctx, "web")
	require.NoError(err)
	var states []model.VMState
	for _, e := range events {
		states = append(states, e.To)
	}
	assert.Equal([]model.VMState{
		model.VMStateCreated,
		model.VMStateStarting,
		model.VMStateRunning,
		model.VMStateStopping,
		model.VMStateStopped,
	}, states)

	// A stopped VM can be started again.
	require.NoError(env.mgr.Start(ctx, "web"))
	assert.Equal(model.VMStateRunning, env.state(t, "web"))
	require.NoError(env.mgr.Kill(ctx, "web"))
}

func TestManagerWorkloadExit(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	vm := env.run(t, "job", "/bin/exit", "3")

	exit, err := env.mgr.Wait(context.Background(), vm.ID)
	require.NoError(err)
	assert.Equal(3, exit.Code)
	assert.Equal(model.ExitReasonExited, exit.Reason)
	assert.Equal(model.VMStateStopped, env.state(t, vm.ID))
}

func TestManagerStopEscalatesToKill(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	env := newTestEnv(t, fake.HypervisorConfig{IgnoreStop: true}, nil)
	env.run(t, "stubborn")

	const timeout = 100 * time.Millisecond
	start := time.Now()
	require.NoError(env.mgr.Stop(context.Background(), "stubborn", timeout))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(elapsed, timeout)
	assert.Less(elapsed, timeout+time.Second)

	got, err := env.mgr.Get(context.Background(), "stubborn")
	require.NoError(err)
	assert.Equal(model.VMStateStopped, got.State)
	assert.Equal(model.ExitReasonKilled, got.Exit.Reason)
	assert.Equal(model.KilledExitCode, got.Exit.Code)
}

func TestManagerStopUnkillableMachine(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	env := newTestEnv(t, fake.HypervisorConfig{IgnoreStop: true, TerminateError: errors.New("permission denied")}, nil)
	env.run(t, "zombie")

	err := env.mgr.Stop(context.Background(), "zombie", 50*time.Millisecond)
	require.Error(err)

	got, err := env.mgr.Get(context.Background(), "zombie")
	require.NoError(err)
	assert.Equal(model.VMStateCrashed, got.State)
	assert.Nil(got.Machine)
	require.NotNil(got.Exit)
	assert.Equal(model.ExitReasonCrashed, got.Exit.Reason)
	assert.Contains(got.Exit.Cause, "permission denied")

	exit, err := env.mgr.Wait(context.Background(), "zombie")
	require.NoError(err)
	assert.Equal(model.CrashedExitCode, exit.Code)
}

func TestManagerConcurrentStopAndKill(t *testing.T) {
	for i := range 20 {
		env := newTestEnv(t, fake.HypervisorConfig{IgnoreStop: true}, nil)
		vm := env.run(t, fmt.Sprintf("vm-%d", i))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = env.mgr.Stop(context.Background(), vm.ID, 50*time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_ = env.mgr.Kill(context.Background(), vm.ID)
		}()
		wg.Wait()

		got, err := env.mgr.Get(context.Background(), vm.ID)
		require.NoError(t, err)
		assert.Equal(t, model.VMStateStopped, got.State)
		assert.Nil(t, got.Machine)
		assert.Equal(t, model.KilledExitCode, got.Exit.Code)
	}
}

func TestManagerRunToCompletionAndRemove(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	cfg := env.config("once", "/bin/true")
	cfg.VCPUs = 2
	cfg.MemoryMiB = 512
	vm, err := env.mgr.Create(ctx, cfg)
	require.NoError(err)
	require.NoError(env.mgr.Start(ctx, vm.ID))

	exit, err := env.mgr.Wait(ctx, vm.ID)
	require.NoError(err)
	assert.Equal(0, exit.Code)

	require.NoError(env.mgr.Remove(ctx, vm.ID))

	vms, err := env.mgr.List(ctx)
	require.NoError(err)
	for _, v := range vms {
		assert.NotEqual(vm.ID, v.ID)
	}
}

func TestManagerWaitKeepsRunExitAcrossRestarts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	env.run(t, "restarted")

	const waiters = 10
	var wg sync.WaitGroup
	exits := make(chan *model.ExitStatus, waiters)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exit, err := env.mgr.Wait(ctx, "restarted")
			if err == nil {
				exits <- exit
			}
		}()
	}

	// Give waiters time to suspend.
	time.Sleep(20 * time.Millisecond)
	require.NoError(env.mgr.Kill(ctx, "restarted"))
	require.NoError(env.mgr.Start(ctx, "restarted"))
	wg.Wait()
	close(exits)

	n := 0
	for exit := range exits {
		require.Equal(model.KilledExitCode, exit.Code)
		require.Equal(model.ExitReasonKilled, exit.Reason)
		n++
	}
	require.Equal(waiters, n)
	require.NoError(env.mgr.Kill(ctx, "restarted"))
}

func TestManagerWaitReleasesAllWaiters(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	env.run(t, "waited")

	const waiters = 10
	var wg sync.WaitGroup
	codes := make(chan int, waiters)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exit, err := env.mgr.Wait(context.Background(), "waited")
			if err == nil {
				codes <- exit.Code
			}
		}()
	}

	// Give waiters time to suspend.
	time.Sleep(20 * time.Millisecond)
	require.NoError(env.mgr.Kill(context.Background(), "waited"))
	wg.Wait()
	close(codes)

	n := 0
	for code := range codes {
		require.Equal(model.KilledExitCode, code)
		n++
	}
	require.Equal(waiters, n)
}

func TestManagerWaitHonorsContext(t *testing.T) {
	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	env.run(t, "long")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.mgr.Wait(ctx, "long")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.VMStateRunning, env.state(t, "long"))
}

func TestManagerKill(t *testing.T) {
	tests := map[string]struct {
		prepare  func(t *testing.T, env *testEnv) string
		expState model.VMState
		expErr   error
	}{
		"Killing a running VM should stop it.": {
			prepare: func(t *testing.T, env *testEnv) string {
				return env.run(t, "a").ID
			},
			expState: model.VMStateStopped,
		},
		"Killing a created VM should stop it.": {
			prepare: func(t *testing.T, env *testEnv) string {
				vm, err := env.mgr.Create(context.Background(), env.config("a"))
				require.NoError(t, err)
				return vm.ID
			},
			expState: model.VMStateStopped,
		},
		"Killing a stopped VM should succeed.": {
			prepare: func(t *testing.T, env *testEnv) string {
				vm := env.run(t, "a")
				require.NoError(t, env.mgr.Kill(context.Background(), vm.ID))
				return vm.ID
			},
			expState: model.VMStateStopped,
		},
		"Killing an unknown VM should fail.": {
			prepare: func(t *testing.T, env *testEnv) string { return "missing" },
			expErr:  model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			ref := test.prepare(t, env)

			err := env.mgr.Kill(context.Background(), ref)
			if test.expErr != nil {
				require.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)

			got, err := env.mgr.Get(context.Background(), ref)
			require.NoError(err)
			require.Equal(test.expState, got.State)
			require.Equal(model.ExitReasonKilled, got.Exit.Reason)
			require.Equal(model.KilledExitCode, got.Exit.Code)
		})
	}
}

func TestManagerKillInterruptsStart(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{NeverReady: true}, func(cfg *vmm.ManagerConfig) {
		cfg.ConnectTimeout = time.Minute
	})
	vm, err := env.mgr.Create(ctx, env.config("slow"))
	require.NoError(err)

	startErr := make(chan error, 1)
	go func() { startErr <- env.mgr.Start(ctx, vm.ID) }()

	require.Eventually(func() bool {
		got, err := env.mgr.Get(ctx, vm.ID)
		return err == nil && got.State == model.VMStateStarting && got.Machine != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(env.mgr.Kill(ctx, vm.ID))

	select {
	case err := <-startErr:
		var terr *model.TransitionError
		require.ErrorAs(err, &terr)
		require.Equal("start", terr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("start should have been interrupted")
	}

	got, err := env.mgr.Get(ctx, vm.ID)
	require.NoError(err)
	require.Equal(model.VMStateStopped, got.State)
	require.Equal(model.ExitReasonKilled, got.Exit.Reason)
}

func TestManagerStartFailures(t *testing.T) {
	tests := map[string]struct {
		hvCfg    fake.HypervisorConfig
		expErr   error
		expCause string
	}{
		"A hypervisor boot failure should crash the VM.": {
			hvCfg:    fake.HypervisorConfig{BootError: errors.New("no kvm")},
			expErr:   model.ErrBoot,
			expCause: "no kvm",
		},
		"A guest that never answers should crash the VM.": {
			hvCfg:    fake.HypervisorConfig{NeverReady: true},
			expErr:   model.ErrBoot,
			expCause: "guest agent unreachable",
		},
		"A guest with another protocol version should crash the VM.": {
			hvCfg:    fake.HypervisorConfig{GuestVersion: protocol.Version + 1},
			expErr:   protocol.ErrVersionMismatch,
			expCause: "version",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			env := newTestEnv(t, test.hvCfg, func(cfg *vmm.ManagerConfig) {
				cfg.ConnectTimeout = 100 * time.Millisecond
			})
			vm, err := env.mgr.Create(context.Background(), env.config("vm"))
			require.NoError(err)

			err = env.mgr.Start(context.Background(), vm.ID)
			require.ErrorIs(err, test.expErr)
			var terr *model.TransitionError
			require.ErrorAs(err, &terr)
			assert.Equal(model.VMStateCreated, terr.From)

			got, err := env.mgr.Get(context.Background(), vm.ID)
			require.NoError(err)
			assert.Equal(model.VMStateCrashed, got.State)
			assert.Equal(model.CrashedExitCode, got.Exit.Code)
			assert.Contains(got.Exit.Cause, test.expCause)
		})
	}
}

func TestManagerCrashes(t *testing.T) {
	tests := map[string]struct {
		crash func(m *fake.Machine)
	}{
		"A protocol failure on the channel should crash the VM.": {
			crash: func(m *fake.Machine) { m.Corrupt() },
		},
		"A hypervisor failure should crash the VM.": {
			crash: func(m *fake.Machine) { m.Crash(errors.New("vcpu fault")) },
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			vm := env.run(t, "fragile")

			test.crash(env.hv.Machine(vm.ID))
			env.eventually(t, vm.ID, model.VMStateCrashed)

			got, err := env.mgr.Get(context.Background(), vm.ID)
			require.NoError(t, err)
			assert.Equal(t, model.ExitReasonCrashed, got.Exit.Reason)
			assert.NotEmpty(t, got.Exit.Cause)
		})
	}
}

func TestManagerSerializesTransitions(t *testing.T) {
	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	vm, err := env.mgr.Create(context.Background(), env.config("racy"))
	require.NoError(t, err)

	const callers = 10
	errs := make(chan error, callers)
	for range callers {
		go func() { errs <- env.mgr.Start(context.Background(), vm.ID) }()
	}

	succeeded := 0
	for range callers {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, model.VMStateRunning, env.state(t, vm.ID))
}

func TestManagerInvalidStates(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		action func(env *testEnv, ref string) error
	}{
		"Starting a running VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Start(ctx, ref) },
		},
		"Removing a running VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Remove(ctx, ref) },
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			vm := env.run(t, "vm")
			assert.ErrorIs(t, test.action(env, vm.ID), model.ErrInvalidState)
		})
	}

	createdTests := map[string]struct {
		action func(env *testEnv, ref string) error
	}{
		"Stopping a created VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Stop(ctx, ref, time.Second) },
		},
		"Removing a created VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Remove(ctx, ref) },
		},
		"Executing in a created VM should fail.": {
			action: func(env *testEnv, ref string) error {
				_, err := env.mgr.Exec(ctx, ref, []string{"/bin/true"}, model.ExecOpts{})
				return err
			},
		},
		"Copying into a created VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.CopyTo(ctx, ref, "/tmp", "/tmp") },
		},
	}

	for name, test := range createdTests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			vm, err := env.mgr.Create(ctx, env.config("vm"))
			require.NoError(t, err)
			assert.ErrorIs(t, test.action(env, vm.ID), model.ErrInvalidState)
		})
	}

	crashedTests := map[string]struct {
		action func(env *testEnv, ref string) error
	}{
		"Starting a crashed VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Start(ctx, ref) },
		},
		"Stopping a crashed VM should fail.": {
			action: func(env *testEnv, ref string) error { return env.mgr.Stop(ctx, ref, time.Second) },
		},
	}

	for name, test := range crashedTests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			env := newTestEnv(t, fake.HypervisorConfig{BootError: errors.New("no kvm")}, nil)
			vm, err := env.mgr.Create(ctx, env.config("vm"))
			require.NoError(err)
			require.ErrorIs(env.mgr.Start(ctx, vm.ID), model.ErrBoot)
			require.Equal(model.VMStateCrashed, env.state(t, vm.ID))

			err = test.action(env, vm.ID)
			require.ErrorIs(err, model.ErrInvalidState)
			var terr *model.TransitionError
			require.ErrorAs(err, &terr)
			assert.Equal(t, model.VMStateCrashed, terr.From)

			// Nothing happened to the VM.
			events, err := env.mgr.Events(ctx, vm.ID)
			require.NoError(err)
			assert.Equal(t, model.VMStateCrashed, events[len(events)-1].To)
			assert.Len(t, events, 3)
		})
	}
}

func TestManagerRemoveAndPrune(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	stopped := env.run(t, "stopped")
	require.NoError(env.mgr.Kill(ctx, stopped.ID))
	crashed := env.run(t, "crashed")
	env.hv.Machine(crashed.ID).Crash(errors.New("boom"))
	env.eventually(t, crashed.ID, model.VMStateCrashed)
	running := env.run(t, "running")
	created, err := env.mgr.Create(ctx, env.config("created"))
	require.NoError(err)

	removed, err := env.mgr.Prune(ctx)
	require.NoError(err)
	assert.ElementsMatch([]string{stopped.ID, crashed.ID}, removed)

	_, err = env.mgr.Get(ctx, stopped.ID)
	assert.ErrorIs(err, model.ErrNotFound)
	_, err = env.repo.GetVM(ctx, stopped.ID)
	assert.ErrorIs(err, model.ErrNotFound)

	vms, err := env.mgr.List(ctx)
	require.NoError(err)
	var ids []string
	for _, vm := range vms {
		ids = append(ids, vm.ID)
	}
	assert.ElementsMatch([]string{running.ID, created.ID}, ids)

	// Remove frees the name.
	require.NoError(env.mgr.Kill(ctx, "running"))
	require.NoError(env.mgr.Remove(ctx, "running"))
	_, err = env.mgr.Create(ctx, env.config("running"))
	assert.NoError(err)
}

func TestManagerAutoRemove(t *testing.T) {
	env := newTestEnv(t, fake.HypervisorConfig{}, nil)

	cfg := env.config("ephemeral", "/bin/true")
	cfg.AutoRemove = true
	vm, err := env.mgr.Create(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, env.mgr.Start(context.Background(), vm.ID))

	require.Eventually(t, func() bool {
		_, err := env.mgr.Get(context.Background(), vm.ID)
		return errors.Is(err, model.ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerRename(t *testing.T) {
	tests := map[string]struct {
		newName string
		expErr  error
	}{
		"Renaming to a free name should work.": {
			newName: "renamed",
		},
		"Renaming to the same name should work.": {
			newName: "a",
		},
		"Renaming to a name in use should fail.": {
			newName: "b",
			expErr:  model.ErrAlreadyExists,
		},
		"Renaming to an invalid name should fail.": {
			newName: "no spaces",
			expErr:  model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()

			env := newTestEnv(t, fake.HypervisorConfig{}, nil)
			a, err := env.mgr.Create(ctx, env.config("a"))
			require.NoError(err)
			_, err = env.mgr.Create(ctx, env.config("b"))
			require.NoError(err)

			vm, err := env.mgr.Rename(ctx, "a", test.newName)
			if test.expErr != nil {
				require.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			require.Equal(test.newName, vm.Name)

			got, err := env.mgr.Get(ctx, test.newName)
			require.NoError(err)
			require.Equal(a.ID, got.ID)
		})
	}
}

func TestManagerLookup(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	vm, err := env.mgr.Create(ctx, env.config("named"))
	require.NoError(err)

	for _, ref := range []string{"named", vm.ID, vm.ID[:20], strings.ToLower(vm.ID[:20])} {
		got, err := env.mgr.Get(ctx, ref)
		require.NoError(err, ref)
		require.Equal(vm.ID, got.ID)
	}

	_, err = env.mgr.Get(ctx, "nope")
	require.ErrorIs(err, model.ErrNotFound)

	// ULIDs created in the same millisecond share their time prefix.
	_, err = env.mgr.Create(ctx, env.config("other"))
	require.NoError(err)
	_, err = env.mgr.Get(ctx, vm.ID[:1])
	require.ErrorIs(err, model.ErrNotValid)
}

func TestManagerCopy(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	env.run(t, "files")

	src := filepath.Join(t.TempDir(), "data")
	require.NoError(os.MkdirAll(src, 0755))
	require.NoError(os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0644))

	require.NoError(env.mgr.CopyTo(ctx, "files", src, "/srv"))
	got, err := os.ReadFile(filepath.Join(env.rootfs, "srv", "a.txt"))
	require.NoError(err)
	require.Equal("hello", string(got))

	dst := filepath.Join(t.TempDir(), "back")
	require.NoError(env.mgr.CopyFrom(ctx, "files", "/srv", dst))
	got, err = os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(err)
	require.Equal("hello", string(got))

	err = env.mgr.CopyFrom(ctx, "files", "/missing", filepath.Join(t.TempDir(), "x"))
	var rerr *protocol.RemoteError
	require.ErrorAs(err, &rerr)
	require.Equal(protocol.ErrorCodeNotFound, rerr.Code)
}

func TestManagerReattach(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, fake.HypervisorConfig{}, nil)
	vm := env.run(t, "durable")
	_, err := env.mgr.Create(ctx, env.config("idle"))
	require.NoError(err)

	// Same hypervisor: the live machine is reattached and its channel opened lazily.
	mgr2 := env.newManager(t, env.hv, nil)
	got, err := mgr2.Get(ctx, "durable")
	require.NoError(err)
	require.Equal(model.VMStateRunning, got.State)

	var out strings.Builder
	res, err := mgr2.Exec(ctx, "durable", []string{"/bin/echo", "again"}, model.ExecOpts{Stdout: &out})
	require.NoError(err)
	require.Equal(0, res.ExitCode)
	require.Equal("again\n", out.String())

	// Another hypervisor can't find the machine: reconciled to stopped.
	otherHV, err := fake.NewHypervisor(fake.HypervisorConfig{})
	require.NoError(err)
	mgr3 := env.newManager(t, otherHV, nil)
	require.Eventually(func() bool {
		got, err := mgr3.Get(ctx, vm.ID)
		return err == nil && got.State == model.VMStateStopped
	}, 2*time.Second, 5*time.Millisecond)

	idle, err := mgr3.Get(ctx, "idle")
	require.NoError(err)
	require.Equal(model.VMStateCreated, idle.State)

	require.NoError(env.mgr.Kill(ctx, vm.ID))
}

func TestNewManagerLoadError(t *testing.T) {
	mRepo := &storagemock.MockRepository{}
	mRepo.On("ListVMs", mock.Anything).Once().Return(nil, errors.New("disk on fire"))

	hv, err := fake.NewHypervisor(fake.HypervisorConfig{})
	require.NoError(t, err)

	_, err = vmm.NewManager(context.Background(), vmm.ManagerConfig{
		Hypervisor: hv,
		Repository: mRepo,
		DataDir:    t.TempDir(),
	})
	assert.Error(t, err)
	mRepo.AssertExpectations(t)
}
