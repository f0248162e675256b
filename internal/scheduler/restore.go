package scheduler

import (
	"github.com/sekigaharaEI/archon/internal/types"
)

// ActiveTaskLister is the subset of the state store Restore needs —
// defined locally so this package does not import internal/store
// directly, matching the dependency-direction convention used by the
// probe/cron executors' own notifier interfaces.
type ActiveTaskLister interface {
	ListActiveTasks() ([]*types.TaskConfig, error)
}

// BuildCallback builds a job's callback by mode, letting Restore wire
// Probe and Cron tasks to distinct handlers without the Scheduler
// itself knowing anything about probeexec or cronexec.
type BuildCallback func(cfg *types.TaskConfig) JobCallback

// Restore re-registers a job for every task whose persisted status is
// active, the startup-recovery half of the scheduler's contract. Tasks
// in any other status are left unregistered; they remain untouched on
// disk until manually resumed.
func (s *Scheduler) Restore(store ActiveTaskLister, buildCallback BuildCallback) error {
	active, err := store.ListActiveTasks()
	if err != nil {
		return err
	}

	for _, cfg := range active {
		callback := buildCallback(cfg)
		if callback == nil {
			continue
		}
		if err := s.AddJob(cfg.TaskID, cfg.Mode, cfg.Schedule, callback); err != nil {
			return err
		}
	}
	return nil
}
