package tasks

import (
	"context"
)

// newPipelineSweepTask creates the task that evicts expired dedup, rate-limit,
// and cache entries from the in-memory pipeline state.
func newPipelineSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "pipeline_sweep")

	return func(ctx context.Context) error {
		removed := deps.Pipeline.Sweep()
		log.DebugContext(ctx, "Pipeline sweep completed", "entries_removed", removed)
		return nil
	}
}
