package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clausehub/contract-cache/internal/platform/observability"
)

// stubTask is a configurable maintenance task for testing
type stubTask struct {
	name    string
	removed int
	err     error
	runs    atomic.Int64
}

func (s *stubTask) Name() string { return s.name }

func (s *stubTask) Run(ctx context.Context) (int, error) {
	s.runs.Add(1)
	return s.removed, s.err
}

func testLogger() *observability.Logger {
	return observability.NewLogger("error", "text")
}

// TestRunOnceAggregatesResults verifies a round collects every task's result
func TestRunOnceAggregatesResults(t *testing.T) {
	m := NewMaintainer(testLogger(), MaintenanceConfig{
		Interval: time.Hour,
		Timeout:  time.Minute,
		Workers:  2,
	})

	taskA := &stubTask{name: "task-a", removed: 3}
	taskB := &stubTask{name: "task-b", removed: 7}
	m.Register(taskA)
	m.Register(taskB)

	results := m.RunOnce(context.Background())

	if len(results.Results) != 2 {
		t.Fatalf("Expected 2 task results, got %d", len(results.Results))
	}
	if results.HasErrors() {
		t.Errorf("Expected no errors, got %d", results.Errors)
	}

	totalRemoved := 0
	for _, r := range results.Results {
		totalRemoved += r.Removed
	}
	if totalRemoved != 10 {
		t.Errorf("Expected 10 total removed, got %d", totalRemoved)
	}

	t.Log("✓ RunOnce aggregates results from all tasks")
}

// TestRunOnceCountsFailures verifies a failing task is counted, not fatal
func TestRunOnceCountsFailures(t *testing.T) {
	m := NewMaintainer(testLogger(), MaintenanceConfig{
		Interval: time.Hour,
		Timeout:  time.Minute,
		Workers:  2,
	})

	m.Register(&stubTask{name: "ok-task", removed: 1})
	m.Register(&stubTask{name: "bad-task", err: errors.New("sweep failed")})

	results := m.RunOnce(context.Background())

	if !results.HasErrors() {
		t.Error("Expected round to report errors")
	}
	if results.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", results.Errors)
	}
	if len(results.Results) != 2 {
		t.Errorf("Expected both tasks to report, got %d results", len(results.Results))
	}

	t.Log("✓ Task failures are counted without aborting the round")
}

// TestRunOnceNoTasks verifies an empty round is a no-op
func TestRunOnceNoTasks(t *testing.T) {
	m := NewMaintainer(testLogger(), DefaultMaintenanceConfig())

	results := m.RunOnce(context.Background())
	if len(results.Results) != 0 {
		t.Errorf("Expected no results, got %d", len(results.Results))
	}
	if results.HasErrors() {
		t.Error("Expected no errors from empty round")
	}

	t.Log("✓ Empty round is a no-op")
}

// TestBackgroundRounds verifies Start runs tasks periodically until Stop
func TestBackgroundRounds(t *testing.T) {
	m := NewMaintainer(testLogger(), MaintenanceConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  time.Second,
		Workers:  1,
	})

	task := &stubTask{name: "periodic"}
	m.Register(task)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)

	deadline := time.After(2 * time.Second)
	for task.runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("Background rounds did not run in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Stop()

	runsAtStop := task.runs.Load()
	time.Sleep(60 * time.Millisecond)
	if task.runs.Load() != runsAtStop {
		t.Error("Expected no rounds after Stop")
	}

	t.Log("✓ Background rounds run periodically and halt on Stop")
}

// TestStopWithoutStart verifies Stop does not hang when Start was never called
func TestStopWithoutStart(t *testing.T) {
	m := NewMaintainer(testLogger(), DefaultMaintenanceConfig())

	done := make(chan bool)
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
		// Success
	case <-time.After(time.Second):
		t.Error("Stop without Start deadlocked")
	}

	t.Log("✓ Stop without Start returns immediately")
}
