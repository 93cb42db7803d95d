package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository, applying any pending migration.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	migrator, err := migrations.NewMigrator(migrations.MigratorConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	version, err := migrator.Up()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s (schema v%d)", cfg.DBPath, version)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

const vmColumns = `
	id, name, state,
	vcpus, memory_mib, rootfs_path, image_ref,
	exec_path, exec_args, exec_env, exec_workdir, auto_remove,
	exit_code, exit_reason, exit_cause,
	machine_pid, machine_run_dir, machine_socket_path, machine_cid,
	created_at, started_at, stopped_at
`

// CreateVM stores a new VM.
func (r *Repository) CreateVM(ctx context.Context, vm model.VM) error {
	args, err := vmArgs(vm)
	if err != nil {
		return err
	}

	query := `INSERT INTO vms (` + vmColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: vms.") {
			return fmt.Errorf("vm %s: %w", vm.Name, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert vm: %w", err)
	}

	r.logger.Debugf("Created vm in repository: %s", vm.ID)
	return nil
}

// GetVM retrieves a VM by ID.
func (r *Repository) GetVM(ctx context.Context, id string) (*model.VM, error) {
	vm, err := r.scanOne(ctx, `SELECT `+vmColumns+` FROM vms WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query vm: %w", err)
	}
	return vm, nil
}

// GetVMByName retrieves a VM by name.
func (r *Repository) GetVMByName(ctx context.Context, name string) (*model.VM, error) {
	vm, err := r.scanOne(ctx, `SELECT `+vmColumns+` FROM vms WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vm with name %s: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query vm: %w", err)
	}
	return vm, nil
}

// ListVMs returns all VMs, newest first.
func (r *Repository) ListVMs(ctx context.Context) ([]model.VM, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+vmColumns+` FROM vms ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query vms: %w", err)
	}
	defer rows.Close()

	var vms []model.VM
	for rows.Next() {
		vm, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		vms = append(vms, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return vms, nil
}

// UpdateVM replaces a stored VM.
func (r *Repository) UpdateVM(ctx context.Context, vm model.VM) error {
	args, err := vmArgs(vm)
	if err != nil {
		return err
	}

	query := `
		UPDATE vms
		SET
			name = ?, state = ?,
			vcpus = ?, memory_mib = ?, rootfs_path = ?, image_ref = ?,
			exec_path = ?, exec_args = ?, exec_env = ?, exec_workdir = ?, auto_remove = ?,
			exit_code = ?, exit_reason = ?, exit_cause = ?,
			machine_pid = ?, machine_run_dir = ?, machine_socket_path = ?, machine_cid = ?,
			created_at = ?, started_at = ?, stopped_at = ?
		WHERE id = ?
	`
	// Move the ID to the WHERE clause.
	args = append(args[1:], args[0])

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: vms.") {
			return fmt.Errorf("vm %s: %w", vm.Name, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not update vm: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("vm %s: %w", vm.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated vm in repository: %s", vm.ID)
	return nil
}

// DeleteVM deletes a VM and its event journal.
func (r *Repository) DeleteVM(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM vms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete vm: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("vm %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted vm from repository: %s", id)
	return nil
}

// AppendEvent journals a VM transition.
func (r *Repository) AppendEvent(ctx context.Context, e model.VMEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vm_events (id, vm_id, from_state, to_state, cause, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.VMID, e.From, e.To, e.Cause, e.At.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("vm %s: %w", e.VMID, model.ErrNotFound)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: vm_events.") {
			return fmt.Errorf("event %s: %w", e.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a VM in insertion order.
func (r *Repository) ListEvents(ctx context.Context, vmID string) ([]model.VMEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, vm_id, from_state, to_state, cause, at FROM vm_events WHERE vm_id = ? ORDER BY seq ASC`,
		vmID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query events: %w", err)
	}
	defer rows.Close()

	var events []model.VMEvent
	for rows.Next() {
		var e model.VMEvent
		var at int64
		if err := rows.Scan(&e.ID, &e.VMID, &e.From, &e.To, &e.Cause, &at); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func vmArgs(vm model.VM) ([]any, error) {
	execArgs := vm.Config.Exec.Args
	if execArgs == nil {
		execArgs = []string{}
	}
	argsJSON, err := json.Marshal(execArgs)
	if err != nil {
		return nil, fmt.Errorf("could not marshal exec args: %w", err)
	}
	execEnv := vm.Config.Exec.Env
	if execEnv == nil {
		execEnv = map[string]string{}
	}
	envJSON, err := json.Marshal(execEnv)
	if err != nil {
		return nil, fmt.Errorf("could not marshal exec env: %w", err)
	}

	var exitCode sql.NullInt64
	var exitReason, exitCause sql.NullString
	if vm.Exit != nil {
		exitCode = sql.NullInt64{Int64: int64(vm.Exit.Code), Valid: true}
		exitReason = sql.NullString{String: string(vm.Exit.Reason), Valid: true}
		exitCause = sql.NullString{String: vm.Exit.Cause, Valid: true}
	}

	var pid, cid sql.NullInt64
	var runDir, socketPath sql.NullString
	if vm.Machine != nil {
		pid = sql.NullInt64{Int64: int64(vm.Machine.PID), Valid: true}
		cid = sql.NullInt64{Int64: int64(vm.Machine.CID), Valid: true}
		runDir = sql.NullString{String: vm.Machine.RunDir, Valid: true}
		socketPath = sql.NullString{String: vm.Machine.SocketPath, Valid: true}
	}

	return []any{
		vm.ID, vm.Name, string(vm.State),
		vm.Config.VCPUs, vm.Config.MemoryMiB, vm.Config.RootFS, vm.Config.Image,
		vm.Config.Exec.Path, string(argsJSON), string(envJSON), vm.Config.Exec.WorkingDir, vm.Config.AutoRemove,
		exitCode, exitReason, exitCause,
		pid, runDir, socketPath, cid,
		vm.CreatedAt.UnixMilli(), unixMilliOrNull(vm.StartedAt), unixMilliOrNull(vm.StoppedAt),
	}, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*model.VM, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	vm, err := r.scanRow(row)
	if err != nil {
		return nil, err
	}
	return &vm, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRow(s scanner) (model.VM, error) {
	var vm model.VM
	var state, argsJSON, envJSON string
	var exitCode, pid, cid sql.NullInt64
	var exitReason, exitCause, runDir, socketPath sql.NullString
	var createdAt int64
	var startedAt, stoppedAt sql.NullInt64

	err := s.Scan(
		&vm.ID, &vm.Name, &state,
		&vm.Config.VCPUs, &vm.Config.MemoryMiB, &vm.Config.RootFS, &vm.Config.Image,
		&vm.Config.Exec.Path, &argsJSON, &envJSON, &vm.Config.Exec.WorkingDir, &vm.Config.AutoRemove,
		&exitCode, &exitReason, &exitCause,
		&pid, &runDir, &socketPath, &cid,
		&createdAt, &startedAt, &stoppedAt,
	)
	if err != nil {
		return model.VM{}, err
	}

	vm.State = model.VMState(state)
	vm.Config.Name = vm.Name

	if err := json.Unmarshal([]byte(argsJSON), &vm.Config.Exec.Args); err != nil {
		return model.VM{}, fmt.Errorf("could not unmarshal exec args: %w", err)
	}
	if len(vm.Config.Exec.Args) == 0 {
		vm.Config.Exec.Args = nil
	}
	if err := json.Unmarshal([]byte(envJSON), &vm.Config.Exec.Env); err != nil {
		return model.VM{}, fmt.Errorf("could not unmarshal exec env: %w", err)
	}
	if len(vm.Config.Exec.Env) == 0 {
		vm.Config.Exec.Env = nil
	}

	if exitCode.Valid {
		vm.Exit = &model.ExitStatus{
			Code:   int(exitCode.Int64),
			Reason: model.ExitReason(exitReason.String),
			Cause:  exitCause.String,
		}
	}
	if pid.Valid {
		vm.Machine = &model.MachineRef{
			PID:        int(pid.Int64),
			RunDir:     runDir.String,
			SocketPath: socketPath.String,
			CID:        uint32(cid.Int64),
		}
	}

	vm.CreatedAt = time.UnixMilli(createdAt).UTC()
	vm.StartedAt = timeOrNil(startedAt)
	vm.StoppedAt = timeOrNil(stoppedAt)

	return vm, nil
}

func unixMilliOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
