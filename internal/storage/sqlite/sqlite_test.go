package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/storage/sqlite"
)

func vmFixture(id, name string, createdAt time.Time) model.VM {
	return model.VM{
		ID:        id,
		Name:      name,
		State:     model.VMStateCreated,
		CreatedAt: createdAt,
		Config: model.VMConfig{
			Name:      name,
			VCPUs:     2,
			MemoryMiB: 512,
			RootFS:    "/images/alpine/rootfs",
			Image:     "alpine:3.20",
			Exec: model.ExecSpec{
				Path:       "/bin/sh",
				Args:       []string{"-c", "echo hi"},
				Env:        map[string]string{"FOO": "bar"},
				WorkingDir: "/root",
			},
			AutoRemove: true,
		},
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	vm := vmFixture("id-1", "vm-1", t0)
	require.NoError(t, repo.CreateVM(ctx, vm))

	got, err := repo.GetVM(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, vm, *got)

	gotByName, err := repo.GetVMByName(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", gotByName.ID)

	// Full state round trip.
	started := t0.Add(time.Second)
	stopped := t0.Add(2 * time.Second)
	vm.State = model.VMStateStopped
	vm.StartedAt = &started
	vm.StoppedAt = &stopped
	vm.Exit = &model.ExitStatus{Code: model.KilledExitCode, Reason: model.ExitReasonKilled}
	vm.Machine = &model.MachineRef{PID: 42, RunDir: "/run/vm", SocketPath: "/run/vm/agent.sock", CID: 1234}
	require.NoError(t, repo.UpdateVM(ctx, vm))

	got, err = repo.GetVM(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, vm, *got)

	require.NoError(t, repo.CreateVM(ctx, vmFixture("id-2", "vm-2", t0.Add(time.Minute))))
	all, err := repo.ListVMs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "id-2", all[0].ID)
	assert.Equal(t, "id-1", all[1].ID)

	require.NoError(t, repo.DeleteVM(ctx, "id-1"))
	_, err = repo.GetVM(ctx, "id-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoryErrors(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		action func(ctx context.Context, repo *sqlite.Repository) error
		expErr error
	}{
		"Creating a VM with an existing name should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.CreateVM(ctx, vmFixture("id-2", "vm-1", t0))
			},
			expErr: model.ErrAlreadyExists,
		},
		"Creating a VM with an existing ID should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.CreateVM(ctx, vmFixture("id-1", "vm-2", t0))
			},
			expErr: model.ErrAlreadyExists,
		},
		"Renaming a VM to an existing name should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				if err := repo.CreateVM(ctx, vmFixture("id-2", "vm-2", t0)); err != nil {
					return err
				}
				return repo.UpdateVM(ctx, vmFixture("id-2", "vm-1", t0))
			},
			expErr: model.ErrAlreadyExists,
		},
		"Getting a missing VM should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				_, err := repo.GetVM(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},
		"Getting a missing VM by name should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				_, err := repo.GetVMByName(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},
		"Updating a missing VM should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.UpdateVM(ctx, vmFixture("missing", "missing", t0))
			},
			expErr: model.ErrNotFound,
		},
		"Deleting a missing VM should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.DeleteVM(ctx, "missing")
			},
			expErr: model.ErrNotFound,
		},
		"Journaling events of a missing VM should fail.": {
			action: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.AppendEvent(ctx, model.VMEvent{ID: "e1", VMID: "missing", At: t0})
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			require.NoError(t, repo.CreateVM(ctx, vmFixture("id-1", "vm-1", t0)))

			err := test.action(ctx, repo)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestRepositoryEvents(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	ctx := context.Background()
	repo := newRepo(t)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(repo.CreateVM(ctx, vmFixture("id-1", "vm-1", t0)))

	exp := []model.VMEvent{
		{ID: "e1", VMID: "id-1", From: model.VMStateCreated, To: model.VMStateStarting, At: t0},
		{ID: "e2", VMID: "id-1", From: model.VMStateStarting, To: model.VMStateCrashed, Cause: "boom", At: t0},
	}
	for _, e := range exp {
		require.NoError(repo.AppendEvent(ctx, e))
	}

	got, err := repo.ListEvents(ctx, "id-1")
	require.NoError(err)
	assert.Equal(exp, got)

	// Journal goes away with its VM.
	require.NoError(repo.DeleteVM(ctx, "id-1"))
	got, err = repo.ListEvents(ctx, "id-1")
	require.NoError(err)
	assert.Empty(got)
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: dbPath})
	require.NoError(err)
	require.NoError(repo.CreateVM(ctx, vmFixture("id-1", "vm-1", t0)))
	require.NoError(repo.Close())

	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: dbPath})
	require.NoError(err)
	defer repo.Close()

	got, err := repo.GetVM(ctx, "id-1")
	require.NoError(err)
	require.Equal("vm-1", got.Name)
}
