// Package task holds the supervised-task data model: one mutable record
// per trial, a registry owning all records, and the event broadcaster
// that fans task updates out to subscribers.
//
// Each task's mutable fields are written only by that task's own
// supervising goroutine (single-writer discipline); the per-task lock
// exists so concurrent readers can take consistent snapshots.
package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantaalpha/triald/internal/classify"
)

// Kind distinguishes the two trial flavors.
type Kind string

const (
	KindMining   Kind = "mining"
	KindBacktest Kind = "backtest"
)

// Status is the lifecycle state of a task. It is monotonic: a task
// never re-enters StatusRunning once it has left it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is the coarse position of a trial within its run.
type Progress struct {
	Phase        classify.Phase `json:"phase"`
	CurrentRound int            `json:"currentRound"`
	TotalRounds  int            `json:"totalRounds"`
	Percent      int            `json:"percent"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
}

// LogEntry is one retained output line.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     classify.Level `json:"level"`
	Message   string         `json:"message"`
}

// ProcessHandle identifies the live trial process, present only while
// one is alive.
type ProcessHandle struct {
	PID int `json:"pid"`
}

// MaxLogEntries bounds the per-task log history. The oldest entries are
// dropped first; insertion order is preserved.
const MaxLogEntries = 500

// Task is one unit of supervised work.
type Task struct {
	mu sync.RWMutex

	id     string
	kind   Kind
	status Status

	progress Progress
	metrics  map[string]float64
	logs     *logRing
	handle   *ProcessHandle

	createdAt time.Time
	updatedAt time.Time

	// config is the originating request, echoed back verbatim and never
	// interpreted here.
	config json.RawMessage
}

// New creates a running task with a fresh id and an initial progress
// phase.
func New(kind Kind, config json.RawMessage, initial Progress) *Task {
	now := time.Now()
	if initial.Timestamp.IsZero() {
		initial.Timestamp = now
	}
	return &Task{
		id:        GenerateID(),
		kind:      kind,
		status:    StatusRunning,
		progress:  initial,
		metrics:   make(map[string]float64),
		logs:      newLogRing(MaxLogEntries),
		createdAt: now,
		updatedAt: now,
		config:    config,
	}
}

// GenerateID returns a short opaque task id.
func GenerateID() string {
	return uuid.NewString()[:8]
}

// ID returns the task's immutable id.
func (t *Task) ID() string {
	return t.id
}

// Kind returns the task's kind.
func (t *Task) Kind() Kind {
	return t.kind
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// CreatedAt returns the creation timestamp.
func (t *Task) CreatedAt() time.Time {
	return t.createdAt
}

// SetStatus applies a status transition and reports whether it took
// effect. The first terminal transition wins: once terminal, every
// later attempt is rejected, including another terminal status.
func (t *Task) SetStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	if s == StatusRunning && t.status != StatusRunning {
		return false
	}
	t.status = s
	t.updatedAt = time.Now()
	return true
}

// Progress returns a copy of the current progress.
func (t *Task) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// SetProgress replaces the progress record.
func (t *Task) SetProgress(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	t.progress = p
	t.updatedAt = time.Now()
}

// SetPhase updates the progress phase and message (truncated to the
// progress limit), stamping the transition time.
func (t *Task) SetPhase(phase classify.Phase, message string) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.progress.Phase = phase
	t.progress.Message = classify.Truncate(message, classify.MaxProgressMessage)
	t.progress.Timestamp = now
	t.updatedAt = now
	return t.progress
}

// SetProgressMessage updates only the progress message.
func (t *Task) SetProgressMessage(message string) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.progress.Message = classify.Truncate(message, classify.MaxProgressMessage)
	t.progress.Timestamp = now
	t.updatedAt = now
	return t.progress
}

// AppendLog stores one output line in the bounded history, truncated to
// the log limit, and returns the stored entry.
func (t *Task) AppendLog(level classify.Level, message string) LogEntry {
	entry := LogEntry{
		ID:        GenerateID(),
		Timestamp: time.Now(),
		Level:     level,
		Message:   classify.Truncate(message, classify.MaxLogMessage),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs.append(entry)
	t.updatedAt = entry.Timestamp
	return entry
}

// Logs returns a copy of the retained log entries, oldest first.
func (t *Task) Logs() []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logs.all()
}

// RecentLogs returns a copy of at most n most recent log entries,
// oldest first.
func (t *Task) RecentLogs(n int) []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logs.last(n)
}

// LogCount returns the number of retained log entries.
func (t *Task) LogCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logs.len()
}

// MergeMetrics accumulates metric values. The metric map never shrinks.
func (t *Task) MergeMetrics(m map[string]float64) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range m {
		t.metrics[k] = v
	}
	t.updatedAt = time.Now()
	return copyMetrics(t.metrics)
}

// SetMetric stores a single metric value.
func (t *Task) SetMetric(key string, value float64) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics[key] = value
	t.updatedAt = time.Now()
	return copyMetrics(t.metrics)
}

// Metrics returns a copy of the accumulated metrics.
func (t *Task) Metrics() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyMetrics(t.metrics)
}

// SetHandle records the live process handle. At most one live handle
// exists per task at any time.
func (t *Task) SetHandle(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handle = &ProcessHandle{PID: pid}
	t.updatedAt = time.Now()
}

// ClearHandle removes the process handle. Called exactly once, at
// process exit; clearing an absent handle is a no-op.
func (t *Task) ClearHandle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return
	}
	t.handle = nil
	t.updatedAt = time.Now()
}

// Handle returns the live process handle, or nil when no process is
// alive.
func (t *Task) Handle() *ProcessHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.handle == nil {
		return nil
	}
	h := *t.handle
	return &h
}

// Snapshot is a read-only copy of a task record.
type Snapshot struct {
	TaskID    string             `json:"taskId"`
	Kind      Kind               `json:"kind"`
	Status    Status             `json:"status"`
	Progress  Progress           `json:"progress"`
	Metrics   map[string]float64 `json:"metrics"`
	Logs      []LogEntry         `json:"logs"`
	PID       *int               `json:"pid,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Config    json.RawMessage    `json:"config,omitempty"`
}

// Snapshot returns a consistent read-only copy of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		TaskID:    t.id,
		Kind:      t.kind,
		Status:    t.status,
		Progress:  t.progress,
		Metrics:   copyMetrics(t.metrics),
		Logs:      t.logs.all(),
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
		Config:    t.config,
	}
	if t.handle != nil {
		pid := t.handle.PID
		snap.PID = &pid
	}
	return snap
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// logRing is a fixed-capacity sliding window over log entries: the
// oldest entry is dropped first, insertion order is preserved.
type logRing struct {
	entries []LogEntry
	cap     int
	start   int
	count   int
}

func newLogRing(capacity int) *logRing {
	return &logRing{
		entries: make([]LogEntry, capacity),
		cap:     capacity,
	}
}

func (r *logRing) append(e LogEntry) {
	if r.count < r.cap {
		r.entries[(r.start+r.count)%r.cap] = e
		r.count++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % r.cap
}

func (r *logRing) len() int {
	return r.count
}

func (r *logRing) all() []LogEntry {
	return r.last(r.count)
}

func (r *logRing) last(n int) []LogEntry {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]LogEntry, n)
	first := (r.start + r.count - n) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.entries[(first+i)%r.cap]
	}
	return out
}
