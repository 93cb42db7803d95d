package vmm

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/session"
	"github.com/slok/microbox/internal/utils/file"
)

// channel returns the guest channel of a VM, opening it if needed.
func (m *Manager) channel(ctx context.Context, inst *instance) (*session.Mux, error) {
	inst.chanMu.Lock()
	defer inst.chanMu.Unlock()

	inst.mu.Lock()
	id, state, gen, machine, mux := inst.vm.ID, inst.vm.State, inst.gen, inst.machine, inst.mux
	inst.mu.Unlock()

	if state != model.VMStateRunning && state != model.VMStateStopping {
		return nil, &model.TransitionError{VMID: id, Op: "open channel", From: state, Err: model.ErrInvalidState}
	}
	if mux != nil {
		select {
		case <-mux.Done():
		default:
			return mux, nil
		}
	}
	if machine == nil {
		return nil, fmt.Errorf("vm %s has no machine: %w", id, model.ErrInvalidState)
	}

	conn, err := machine.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not dial guest: %w", err)
	}
	mux, err = session.NewMux(conn, session.MuxConfig{
		Logger:  m.logger.WithValues(log.Kv{"vm-id": id}),
		Metrics: m.metrics,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := mux.Negotiate(ctx); err != nil {
		if session.IsFatal(err) {
			m.crash(inst, gen, machine, fmt.Sprintf("guest channel failed: %s", err))
		}
		return nil, err
	}

	inst.mu.Lock()
	if inst.gen != gen || inst.vm.State.IsTerminal() {
		inst.mu.Unlock()
		_ = mux.Close()
		return nil, fmt.Errorf("vm %s finished: %w", id, model.ErrInvalidState)
	}
	inst.mux = mux
	inst.mu.Unlock()

	go m.watchChannel(inst, gen, machine, mux)

	return mux, nil
}

// runningChannel returns the channel of a running VM.
func (m *Manager) runningChannel(ctx context.Context, ref, op string) (*session.Mux, error) {
	inst, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	id, state := inst.vm.ID, inst.vm.State
	inst.mu.Unlock()
	if state != model.VMStateRunning {
		return nil, &model.TransitionError{VMID: id, Op: op, From: state, Err: model.ErrInvalidState}
	}

	return m.channel(ctx, inst)
}

func (m *Manager) Exec(ctx context.Context, ref string, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command is required: %w", model.ErrNotValid)
	}

	mux, err := m.runningChannel(ctx, ref, "exec")
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)

	s, err := mux.Exec(ctx, protocol.ExecRequest{
		Path:       command[0],
		Args:       command[1:],
		Env:        env,
		WorkingDir: opts.WorkingDir,
		Tty:        opts.Tty,
	}, session.ExecIO{Stdin: opts.Stdin, Stdout: opts.Stdout, Stderr: opts.Stderr})
	if err != nil {
		return nil, fmt.Errorf("could not start exec: %w", err)
	}

	code, err := s.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}

	return &model.ExecResult{ExitCode: code}, nil
}

func (m *Manager) CopyTo(ctx context.Context, ref string, srcHost string, dstGuest string) error {
	mux, err := m.runningChannel(ctx, ref, "copy")
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(file.Tar(ctx, pw, srcHost))
	}()
	defer pr.Close()

	req := protocol.CopyRequest{Direction: protocol.DirectionToGuest, HostPath: srcHost, GuestPath: dstGuest}
	if err := mux.CopyTo(ctx, req, pr); err != nil {
		return fmt.Errorf("could not copy %s to vm: %w", srcHost, err)
	}
	return nil
}

func (m *Manager) CopyFrom(ctx context.Context, ref string, srcGuest string, dstHost string) error {
	mux, err := m.runningChannel(ctx, ref, "copy")
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	copyErr := make(chan error, 1)
	go func() {
		req := protocol.CopyRequest{Direction: protocol.DirectionFromGuest, HostPath: dstHost, GuestPath: srcGuest}
		err := mux.CopyFrom(ctx, req, pw)
		pw.CloseWithError(err)
		copyErr <- err
	}()

	extractErr := file.ExtractAs(pr, dstHost, file.ExtractOpts{})
	if extractErr == nil {
		_, _ = io.Copy(io.Discard, pr)
	}
	// Unblock the session if extraction stopped reading.
	pr.CloseWithError(extractErr)

	if err := <-copyErr; err != nil {
		return fmt.Errorf("could not copy %s from vm: %w", srcGuest, err)
	}
	if extractErr != nil {
		return fmt.Errorf("could not extract %s: %w", srcGuest, extractErr)
	}
	return nil
}
