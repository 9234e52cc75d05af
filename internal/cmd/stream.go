package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantaalpha/triald/internal/orchestrator"
	"github.com/quantaalpha/triald/internal/task"
)

// runForeground supervises one task from a one-shot CLI invocation:
// events are printed to stdout as they arrive, an interrupt cancels the
// task, and the final snapshot is returned once the run is over.
func runForeground(orch *orchestrator.Orchestrator, taskID string) (task.Snapshot, error) {
	sub, err := orch.Subscribe(taskID)
	if err != nil {
		return task.Snapshot{}, err
	}
	defer orch.Unsubscribe(sub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = orch.Cancel(taskID)
	}()

	for ev := range sub.Events() {
		printEvent(ev)
		if ev.Type == task.EventResult {
			break
		}
	}

	orch.Wait()
	return orch.Get(taskID)
}

func printEvent(ev task.Event) {
	switch ev.Type {
	case task.EventLog:
		if entry, ok := ev.Data.(task.LogEntry); ok {
			fmt.Printf("[%s] %s\n", entry.Level, entry.Message)
		}
	case task.EventProgress:
		if p, ok := ev.Data.(task.Progress); ok {
			fmt.Printf("== phase: %s  %s\n", p.Phase, p.Message)
		}
	case task.EventMetrics:
		if m, ok := ev.Data.(map[string]float64); ok {
			fmt.Printf("== metrics: %v\n", m)
		}
	case task.EventError:
		if data, ok := ev.Data.(map[string]any); ok {
			fmt.Printf("!! %v\n", data["error"])
		}
	case task.EventResult:
		if data, ok := ev.Data.(map[string]any); ok {
			fmt.Printf("== result: %v\n", data["status"])
		}
	}
}

// finish maps the final snapshot to the process exit: anything but a
// completed task is an error.
func finish(snap task.Snapshot) error {
	if snap.Status != task.StatusCompleted {
		return fmt.Errorf("task %s ended %s: %s", snap.TaskID, snap.Status, snap.Progress.Message)
	}
	if len(snap.Metrics) > 0 {
		fmt.Printf("final metrics: %v\n", snap.Metrics)
	}
	return nil
}
