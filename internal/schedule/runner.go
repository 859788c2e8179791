package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultPollSpec is how often the runner looks for due tasks.
const DefaultPollSpec = "@every 30s"

const maxRunLogs = 200

// RunFunc executes one task and returns its result text.
type RunFunc func(ctx context.Context, t Task) (string, error)

// Runner keeps the task list and runs due tasks from a cron poll job.
// Polls never overlap.
type Runner struct {
	logger *slog.Logger
	run    RunFunc
	cron   *cron.Cron
	now    func() time.Time

	mu    sync.Mutex
	tasks []Task
	logs  []RunLog

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner validates tasks and computes their first run. Tasks without an ID
// get a generated one; tasks without a status start active.
func NewRunner(log *slog.Logger, tasks []Task, run RunFunc) (*Runner, error) {
	if run == nil {
		return nil, fmt.Errorf("run func is required")
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		logger: log.With(slog.String("component", "scheduler")),
		run:    run,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:    time.Now,
	}
	now := r.now()
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if err := Validate(t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("task %d: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.ContextMode == "" {
			t.ContextMode = ContextIsolated
		}
		if t.Status == "" {
			t.Status = StatusActive
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.NextRun == nil && t.Status == StatusActive {
			next, ok, err := NextRun(t, now)
			if err != nil {
				return nil, fmt.Errorf("task %d: %w", i, err)
			}
			if ok {
				t.NextRun = &next
			} else {
				t.Status = StatusCompleted
			}
		}
		r.tasks = append(r.tasks, t)
	}
	return r, nil
}

// Start schedules the poll job. ctx is handed to every task run.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()
	if _, err := r.cron.AddFunc(DefaultPollSpec, r.poll); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	r.cron.Start()
	r.logger.Info("scheduler started", slog.Int("tasks", len(r.Tasks())))
	return nil
}

// Stop halts polling and waits for a running poll to finish, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) poll() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	r.RunDue(ctx, r.now())
}

// RunDue runs every task due at now, one after another, and returns how many ran.
func (r *Runner) RunDue(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var due []Task
	for _, t := range r.tasks {
		if IsDue(t, now) {
			due = append(due, t)
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		started := r.now()
		result, err := r.run(ctx, t)
		duration := r.now().Sub(started)
		if err != nil {
			r.logger.Error("task failed", slog.String("task_id", t.ID), slog.String("chat_jid", t.ChatJID), slog.Any("error", err))
		} else {
			r.logger.Info("task ran", slog.String("task_id", t.ID), slog.Duration("duration", duration))
		}
		r.record(t.ID, started, duration, result, err)
	}
	return len(due)
}

func (r *Runner) record(id string, started time.Time, duration time.Duration, result string, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tasks {
		if r.tasks[i].ID != id {
			continue
		}
		r.logs = append(r.logs, Complete(&r.tasks[i], started, duration, result, runErr))
		if len(r.logs) > maxRunLogs {
			r.logs = append([]RunLog(nil), r.logs[len(r.logs)-maxRunLogs:]...)
		}
		return
	}
}

// Tasks returns a snapshot of the task list.
func (r *Runner) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}

// Logs returns the most recent run logs, oldest first.
func (r *Runner) Logs() []RunLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunLog(nil), r.logs...)
}
