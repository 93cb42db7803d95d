package vmm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/session"
)

var errKilled = errors.New("vm was killed")

// exitGracePeriod is how long a broken handshake waits for the machine exit to be reported.
const exitGracePeriod = time.Second

func (m *Manager) Start(ctx context.Context, ref string) error {
	inst, err := m.lookup(ref)
	if err != nil {
		return err
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	inst.mu.Lock()
	from := inst.vm.State
	if from != model.VMStateCreated && from != model.VMStateStopped {
		inst.mu.Unlock()
		return &model.TransitionError{VMID: inst.vm.ID, Op: "start", From: from, Err: model.ErrInvalidState}
	}
	inst.gen++
	gen := inst.gen
	inst.killed = false
	// Waiters of a never started VM keep waiting on the same channel.
	select {
	case <-inst.run.done:
		inst.run = &runState{done: make(chan struct{})}
	default:
	}
	now := time.Now().UTC()
	inst.vm.State = model.VMStateStarting
	inst.vm.StartedAt = &now
	inst.vm.StoppedAt = nil
	inst.vm.Exit = nil
	vm := inst.vm.Copy()
	m.persistLocked(ctx, inst, from, "")
	inst.mu.Unlock()

	logger := m.logger.WithValues(log.Kv{"vm-id": vm.ID, "vm-name": vm.Name})
	fail := func(err error) error {
		return &model.TransitionError{VMID: vm.ID, Op: "start", From: from, Err: err}
	}

	machine, err := m.hv.Boot(ctx, hypervisor.BootSpec{
		VMID:      vm.ID,
		VCPUs:     vm.Config.VCPUs,
		MemoryMiB: vm.Config.MemoryMiB,
		RootFS:    vm.Config.RootFS,
		Exec:      vm.Config.Exec,
		RunDir:    conventions.VMDir(m.dataDir, vm.ID),
	})
	if err != nil {
		m.finalize(inst, gen, model.VMStateCrashed, model.ExitStatus{Code: model.CrashedExitCode, Reason: model.ExitReasonCrashed, Cause: err.Error()})
		return fail(fmt.Errorf("%w: %w", model.ErrBoot, err))
	}

	inst.mu.Lock()
	inst.machine = machine
	ref0 := machine.Ref()
	inst.vm.Machine = &ref0
	killed := inst.killed
	m.persistLocked(ctx, inst, model.VMStateStarting, "")
	inst.mu.Unlock()

	go m.watchMachine(inst, gen, machine)

	if killed {
		_ = machine.Terminate()
		return m.startOutcome(ctx, inst, gen, fail)
	}

	conn, err := m.dialGuest(ctx, machine)
	if err != nil {
		if machineDone(machine) {
			return m.startOutcome(ctx, inst, gen, fail)
		}
		m.crash(inst, gen, machine, fmt.Sprintf("guest agent unreachable: %s", err))
		return fail(fmt.Errorf("%w: %w", model.ErrBoot, err))
	}

	mux, err := session.NewMux(conn, session.MuxConfig{Logger: logger, Metrics: m.metrics})
	if err != nil {
		_ = conn.Close()
		m.crash(inst, gen, machine, err.Error())
		return fail(err)
	}

	hctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err = mux.Negotiate(hctx)
	cancel()
	if err != nil {
		if !errors.Is(err, protocol.ErrVersionMismatch) && exitedWithin(machine, exitGracePeriod) {
			return m.startOutcome(ctx, inst, gen, fail)
		}
		m.crash(inst, gen, machine, err.Error())
		return fail(err)
	}

	inst.mu.Lock()
	if inst.gen != gen || inst.vm.State != model.VMStateStarting {
		inst.mu.Unlock()
		_ = mux.Close()
		return m.startOutcome(ctx, inst, gen, fail)
	}
	inst.mux = mux
	inst.vm.State = model.VMStateRunning
	m.persistLocked(ctx, inst, model.VMStateStarting, "")
	inst.mu.Unlock()

	go m.watchChannel(inst, gen, machine, mux)

	logger.Infof("VM started")
	return nil
}

// startOutcome waits for a start that lost its machine to settle. A guest that
// ran its workload to completion is a successful start.
func (m *Manager) startOutcome(ctx context.Context, inst *instance, gen uint64, fail func(error) error) error {
	inst.mu.Lock()
	done := inst.run.done
	inst.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.gen != gen || inst.vm.Exit == nil {
		return fail(model.ErrInvalidState)
	}
	switch {
	case inst.vm.State == model.VMStateCrashed:
		return fail(fmt.Errorf("%w: %s", model.ErrBoot, inst.vm.Exit.Cause))
	case inst.vm.Exit.Reason == model.ExitReasonKilled:
		return fail(errKilled)
	}
	return nil
}

// dialGuest dials the guest agent until it's ready, the machine exits or the connect timeout expires.
func (m *Manager) dialGuest(ctx context.Context, machine hypervisor.Machine) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	for {
		c, err := machine.Dial(ctx)
		if err == nil {
			return c, nil
		}

		t := time.NewTimer(m.dialInterval)
		select {
		case <-machine.Done():
			t.Stop()
			return nil, fmt.Errorf("machine exited before the guest agent was ready: %w", err)
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: last error: %w", ctx.Err(), err)
		case <-t.C:
		}
	}
}

func (m *Manager) Stop(ctx context.Context, ref string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.stopTimeout
	}

	inst, err := m.lookup(ref)
	if err != nil {
		return err
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	inst.mu.Lock()
	from := inst.vm.State
	if from != model.VMStateRunning {
		inst.mu.Unlock()
		return &model.TransitionError{VMID: inst.vm.ID, Op: "stop", From: from, Err: model.ErrInvalidState}
	}
	inst.vm.State = model.VMStateStopping
	m.persistLocked(ctx, inst, from, "")
	machine, done, id, gen := inst.machine, inst.run.done, inst.vm.ID, inst.gen
	inst.mu.Unlock()

	logger := m.logger.WithValues(log.Kv{"vm-id": id})
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		mux, err := m.channel(tctx, inst)
		if err == nil {
			err = mux.Stop(tctx)
		}
		if err != nil {
			logger.Debugf("stop request failed: %s", err)
		}
	}()

	escalated := false
	select {
	case <-machine.Done():
	case <-tctx.Done():
		escalated = true
		logger.Warningf("VM did not stop in %s, killing it", timeout)
		inst.mu.Lock()
		inst.killed = true
		inst.mu.Unlock()
		if err := machine.Terminate(); err != nil {
			// The machine state is unknown, don't leave the VM stopping forever.
			m.finalize(inst, gen, model.VMStateCrashed, model.ExitStatus{
				Code:   model.CrashedExitCode,
				Reason: model.ExitReasonCrashed,
				Cause:  fmt.Sprintf("could not kill machine after stop timeout: %s", err),
			})
			return &model.TransitionError{VMID: id, Op: "stop", From: from, Err: err}
		}
	}

	<-done
	m.metrics.ObserveStop(time.Since(start), escalated)
	logger.Infof("VM stopped")

	return nil
}

func (m *Manager) Kill(ctx context.Context, ref string) error {
	inst, err := m.lookup(ref)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	id, state, gen, machine, done := inst.vm.ID, inst.vm.State, inst.gen, inst.machine, inst.run.done
	switch {
	case state.IsTerminal():
		inst.mu.Unlock()
		return nil
	case state == model.VMStateCreated:
		inst.mu.Unlock()
		if m.finalize(inst, gen, model.VMStateStopped, model.ExitStatus{Code: model.KilledExitCode, Reason: model.ExitReasonKilled}) {
			return nil
		}
		// A start won the race, kill the new run.
		return m.Kill(ctx, ref)
	}
	inst.killed = true
	inst.mu.Unlock()

	// Starts without machine yet terminate it as soon as it's booted.
	if machine != nil {
		if err := machine.Terminate(); err != nil {
			m.finalize(inst, gen, model.VMStateCrashed, model.ExitStatus{
				Code:   model.CrashedExitCode,
				Reason: model.ExitReasonCrashed,
				Cause:  fmt.Sprintf("could not kill machine: %s", err),
			})
			return &model.TransitionError{VMID: id, Op: "kill", From: state, Err: err}
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.WithValues(log.Kv{"vm-id": id}).Infof("VM killed")
	return nil
}

func (m *Manager) Wait(ctx context.Context, ref string) (*model.ExitStatus, error) {
	inst, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	run := inst.run
	inst.mu.Unlock()

	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	exit := run.exit
	return &exit, nil
}

// watchMachine finalizes the VM once its machine is gone.
func (m *Manager) watchMachine(inst *instance, gen uint64, machine hypervisor.Machine) {
	<-machine.Done()
	status := machine.ExitStatus()

	inst.mu.Lock()
	killed := inst.killed
	inst.mu.Unlock()

	switch {
	case killed:
		m.finalize(inst, gen, model.VMStateStopped, model.ExitStatus{Code: model.KilledExitCode, Reason: model.ExitReasonKilled})
	case errors.Is(status.Err, hypervisor.ErrHypervisor):
		m.finalize(inst, gen, model.VMStateCrashed, model.ExitStatus{Code: model.CrashedExitCode, Reason: model.ExitReasonCrashed, Cause: status.Err.Error()})
	case status.Err != nil:
		m.finalize(inst, gen, model.VMStateStopped, model.ExitStatus{Code: status.Code, Reason: model.ExitReasonExited, Cause: status.Err.Error()})
	default:
		m.finalize(inst, gen, model.VMStateStopped, model.ExitStatus{Code: status.Code, Reason: model.ExitReasonExited})
	}
}

// watchChannel crashes the VM when its channel fails with a protocol error. A plain
// close is left to the machine watcher.
func (m *Manager) watchChannel(inst *instance, gen uint64, machine hypervisor.Machine, mux *session.Mux) {
	<-mux.Done()
	err := mux.Err()

	inst.mu.Lock()
	if inst.mux == mux {
		inst.mux = nil
	}
	inst.mu.Unlock()

	if session.IsFatal(err) {
		m.crash(inst, gen, machine, fmt.Sprintf("guest channel failed: %s", err))
	}
}

// crash resolves the VM to crashed and terminates its machine.
func (m *Manager) crash(inst *instance, gen uint64, machine hypervisor.Machine, cause string) {
	m.finalize(inst, gen, model.VMStateCrashed, model.ExitStatus{Code: model.CrashedExitCode, Reason: model.ExitReasonCrashed, Cause: cause})
	if err := machine.Terminate(); err != nil {
		m.logger.Warningf("could not terminate crashed machine: %s", err)
	}
}

// finalize moves a VM run to a terminal state. The first terminal event of a run wins,
// it returns false for the rest.
func (m *Manager) finalize(inst *instance, gen uint64, to model.VMState, exit model.ExitStatus) bool {
	inst.mu.Lock()
	from := inst.vm.State
	if inst.gen != gen || from.IsTerminal() {
		inst.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	inst.vm.State = to
	inst.vm.Exit = &exit
	inst.vm.StoppedAt = &now
	inst.vm.Machine = nil
	inst.machine = nil
	mux := inst.mux
	inst.mux = nil
	autoRemove := inst.vm.Config.AutoRemove
	id := inst.vm.ID
	m.persistLocked(context.Background(), inst, from, exit.Cause)
	inst.run.exit = exit
	close(inst.run.done)
	inst.mu.Unlock()

	if mux != nil {
		_ = mux.Close()
	}

	m.logger.WithValues(log.Kv{"vm-id": id, "state": to, "exit-code": exit.Code}).Debugf("VM finished")

	if autoRemove {
		go func() {
			if err := m.Remove(context.Background(), id); err != nil && !errors.Is(err, model.ErrNotFound) {
				m.logger.Warningf("could not auto remove vm %s: %s", id, err)
			}
		}()
	}

	return true
}

// persistLocked stores the instance VM and journals the transition from the given state.
func (m *Manager) persistLocked(ctx context.Context, inst *instance, from model.VMState, cause string) {
	if err := m.repo.UpdateVM(context.WithoutCancel(ctx), inst.vm); err != nil {
		m.logger.Warningf("could not store vm %s: %s", inst.vm.ID, err)
	}
	if from != inst.vm.State {
		m.journal(ctx, inst.vm.ID, from, inst.vm.State, cause)
	}
}

func exitedWithin(machine hypervisor.Machine, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-machine.Done():
		return true
	case <-t.C:
		return false
	}
}

func machineDone(machine hypervisor.Machine) bool {
	select {
	case <-machine.Done():
		return true
	default:
		return false
	}
}
