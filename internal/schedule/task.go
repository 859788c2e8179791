// Package schedule models recurring and one-off agent tasks and computes
// when they run next.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is how a task's Value is interpreted.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// ContextMode controls whether a run sees the group's recent conversation.
type ContextMode string

const (
	ContextGroup    ContextMode = "group"
	ContextIsolated ContextMode = "isolated"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ErrInvalidTask wraps every validation failure.
var ErrInvalidTask = errors.New("invalid scheduled task")

// Task is a prompt the agent runs on a schedule for one group.
type Task struct {
	ID          string      `json:"id"`
	GroupFolder string      `json:"group_folder"`
	ChatJID     string      `json:"chat_jid"`
	Prompt      string      `json:"prompt"`
	Kind        Kind        `json:"schedule_type"`
	Value       string      `json:"schedule_value"`
	ContextMode ContextMode `json:"context_mode"`
	NextRun     *time.Time  `json:"next_run,omitempty"`
	LastRun     *time.Time  `json:"last_run,omitempty"`
	LastResult  string      `json:"last_result,omitempty"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RunLog records one execution of a task.
type RunLog struct {
	TaskID   string        `json:"task_id"`
	RunAt    time.Time     `json:"run_at"`
	Duration time.Duration `json:"duration_ms"`
	Success  bool          `json:"success"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Validate checks the task's kind, value and context mode.
func Validate(t Task) error {
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.ChatJID) == "" {
		return fmt.Errorf("%w: chat jid is required", ErrInvalidTask)
	}
	switch t.ContextMode {
	case ContextGroup, ContextIsolated, "":
	default:
		return fmt.Errorf("%w: unknown context mode %q", ErrInvalidTask, t.ContextMode)
	}
	switch t.Kind {
	case KindCron:
		if _, err := cron.ParseStandard(t.Value); err != nil {
			return fmt.Errorf("%w: cron expression: %v", ErrInvalidTask, err)
		}
	case KindInterval:
		d, err := parseInterval(t.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidTask)
		}
	case KindOnce:
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(t.Value)); err != nil {
			return fmt.Errorf("%w: once value must be RFC 3339: %v", ErrInvalidTask, err)
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

// NextRun computes the first run strictly after now. ok is false when the
// task has no further runs.
func NextRun(t Task, now time.Time) (next time.Time, ok bool, err error) {
	switch t.Kind {
	case KindCron:
		sched, err := cron.ParseStandard(t.Value)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: cron expression: %v", ErrInvalidTask, err)
		}
		return sched.Next(now), true, nil
	case KindInterval:
		d, err := parseInterval(t.Value)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		if d <= 0 {
			return time.Time{}, false, fmt.Errorf("%w: interval must be positive", ErrInvalidTask)
		}
		return now.Add(d), true, nil
	case KindOnce:
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(t.Value))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: once value must be RFC 3339: %v", ErrInvalidTask, err)
		}
		if !at.After(now) {
			return time.Time{}, false, nil
		}
		return at, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidTask, t.Kind)
	}
}

// IsDue reports whether an active task should run at now.
func IsDue(t Task, now time.Time) bool {
	if t.Status != StatusActive || t.NextRun == nil {
		return false
	}
	return !now.Before(*t.NextRun)
}

// Complete records a finished run on t and schedules the next one. One-off
// tasks, and tasks with no further runs, become completed.
func Complete(t *Task, startedAt time.Time, duration time.Duration, result string, runErr error) RunLog {
	log := RunLog{
		TaskID:   t.ID,
		RunAt:    startedAt,
		Duration: duration,
		Success:  runErr == nil,
		Result:   result,
	}
	lastResult := result
	if runErr != nil {
		log.Error = runErr.Error()
		lastResult = "error: " + runErr.Error()
	}
	last := startedAt
	t.LastRun = &last
	t.LastResult = lastResult

	finishedAt := startedAt.Add(duration)
	next, ok, err := NextRun(*t, finishedAt)
	if t.Kind == KindOnce || err != nil || !ok {
		t.NextRun = nil
		t.Status = StatusCompleted
		return log
	}
	t.NextRun = &next
	return log
}

// parseInterval accepts a Go duration ("90m") or a number of milliseconds.
func parseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("interval is required")
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", value, err)
	}
	return d, nil
}
