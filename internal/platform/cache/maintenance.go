package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/clausehub/contract-cache/internal/platform/observability"
	"github.com/clausehub/contract-cache/internal/platform/worker"
)

// MaintenanceTask is a unit of periodic cache housekeeping, such as
// purging expired in-process entries or sweeping time-boxed durable rows.
// Implementations must be idempotent and safe to run concurrently with
// request traffic.
type MaintenanceTask interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Run performs one round of housekeeping and reports how many
	// entries it removed.
	Run(ctx context.Context) (removed int, err error)
}

// MaintenanceConfig configures the maintenance runner.
type MaintenanceConfig struct {
	// Interval between rounds when running in the background
	Interval time.Duration

	// Timeout is the maximum duration of a single round
	Timeout time.Duration

	// Workers is the number of tasks run concurrently per round
	Workers int
}

// DefaultMaintenanceConfig returns sensible defaults for background
// housekeeping.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval: 1 * time.Hour,
		Timeout:  5 * time.Minute,
		Workers:  2,
	}
}

// TaskResult contains the result of one task in a round.
type TaskResult struct {
	Task     string
	Removed  int
	Duration time.Duration
	Err      error
}

// RoundResults contains the aggregate results of one maintenance round.
type RoundResults struct {
	Results   []TaskResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any task failed during the round.
func (rr *RoundResults) HasErrors() bool {
	return rr.Errors > 0
}

// Maintainer runs registered maintenance tasks, either once on demand or
// periodically in the background. Housekeeping is best-effort: lazy
// expiry keeps the tiers correct even when every round fails.
type Maintainer struct {
	tasks  []MaintenanceTask
	logger *observability.Logger
	config MaintenanceConfig

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMaintainer creates a maintenance runner.
func NewMaintainer(logger *observability.Logger, config MaintenanceConfig) *Maintainer {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultMaintenanceConfig().Timeout
	}
	if config.Workers <= 0 {
		config.Workers = DefaultMaintenanceConfig().Workers
	}

	return &Maintainer{
		tasks:  make([]MaintenanceTask, 0),
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register adds a maintenance task to the runner.
func (m *Maintainer) Register(task MaintenanceTask) {
	m.tasks = append(m.tasks, task)
}

// RunOnce executes all registered tasks through a worker pool and returns
// aggregate results including timing and errors.
func (m *Maintainer) RunOnce(ctx context.Context) *RoundResults {
	start := time.Now()
	results := &RoundResults{
		Results: make([]TaskResult, 0, len(m.tasks)),
	}

	if len(m.tasks) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	roundCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	pool := worker.NewPool(roundCtx, m.config.Workers, len(m.tasks))
	defer pool.Close()

	jobs := make([]worker.Job, 0, len(m.tasks))
	for _, task := range m.tasks {
		task := task
		jobs = append(jobs, worker.Job{
			ID: task.Name(),
			Execute: func(ctx context.Context) (interface{}, error) {
				taskStart := time.Now()
				removed, err := task.Run(ctx)
				return TaskResult{
					Task:     task.Name(),
					Removed:  removed,
					Duration: time.Since(taskStart),
					Err:      err,
				}, nil
			},
		})
	}

	for _, res := range pool.SubmitAndWait(jobs) {
		tr, ok := res.Value.(TaskResult)
		if !ok {
			continue
		}
		if tr.Err != nil {
			results.Errors++
			m.logger.LogWarn(ctx, fmt.Sprintf("maintenance task %s failed: %v (took %v)", tr.Task, tr.Err, tr.Duration))
		} else {
			m.logger.LogDebug(ctx, fmt.Sprintf("maintenance task %s removed %d entries in %v", tr.Task, tr.Removed, tr.Duration))
		}
		results.Results = append(results.Results, tr)
	}

	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		m.logger.LogWarn(ctx, fmt.Sprintf("maintenance round completed with %d/%d errors in %v",
			results.Errors, len(m.tasks), results.TotalTime))
	} else {
		m.logger.LogInfo(ctx, fmt.Sprintf("maintenance round completed (%d tasks) in %v",
			len(m.tasks), results.TotalTime))
	}

	return results
}

// Start runs maintenance rounds at the configured interval until Stop is
// called or ctx is cancelled.
func (m *Maintainer) Start(ctx context.Context) {
	m.started = true
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts background rounds and waits for the runner to exit.
func (m *Maintainer) Stop() {
	close(m.stopCh)
	if m.started {
		<-m.doneCh
	}
}
