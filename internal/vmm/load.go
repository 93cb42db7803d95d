package vmm

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// load registers the persisted VMs, reattaching the machines of active ones. Active VMs whose
// machine can't be reattached are reconciled to stopped.
func (m *Manager) load(ctx context.Context) error {
	vms, err := m.repo.ListVMs(ctx)
	if err != nil {
		return err
	}

	for _, vm := range vms {
		if vm.State == model.VMStateRemoved {
			if err := m.repo.DeleteVM(ctx, vm.ID); err != nil {
				m.logger.Warningf("could not delete removed vm %s: %s", vm.ID, err)
			}
			continue
		}

		inst := newInstance(vm)
		m.vms[vm.ID] = inst

		if !vm.State.IsActive() {
			continue
		}

		logger := m.logger.WithValues(log.Kv{"vm-id": vm.ID, "vm-name": vm.Name})
		if vm.Machine == nil {
			logger.Warningf("active VM without machine, reconciling")
			m.finalize(inst, inst.gen, model.VMStateStopped, model.ExitStatus{Code: model.CrashedExitCode, Reason: model.ExitReasonExited, Cause: "machine lost"})
			continue
		}

		machine, err := m.hv.Attach(ctx, *vm.Machine)
		if err != nil {
			logger.Warningf("could not reattach machine: %s", err)
			m.finalize(inst, inst.gen, model.VMStateStopped, model.ExitStatus{Code: model.CrashedExitCode, Reason: model.ExitReasonExited, Cause: fmt.Sprintf("machine lost: %s", err)})
			continue
		}

		// Transitions that were in flight in another process are over for us.
		inst.mu.Lock()
		inst.gen++
		inst.machine = machine
		if vm.State != model.VMStateRunning {
			from := inst.vm.State
			inst.vm.State = model.VMStateRunning
			m.persistLocked(ctx, inst, from, "reattached")
		}
		gen := inst.gen
		inst.mu.Unlock()

		go m.watchMachine(inst, gen, machine)
		logger.Debugf("machine reattached")
	}

	return nil
}
