// Package scheduler runs recurring maintenance tasks, such as journal
// retention pruning, on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// TaskStatus describes a registered task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

type task struct {
	name     string
	schedule string
	fn       TaskFunc
	entry    cron.EntryID

	running   bool
	runs      int
	lastRun   time.Time
	lastError string
}

// Scheduler manages named tasks on cron expressions.
type Scheduler struct {
	mu sync.Mutex

	cron   *cron.Cron
	parser cron.Parser
	tasks  map[string]*task
	logger *slog.Logger

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler using standard 5-field cron expressions.
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		parser: parser,
		tasks:  make(map[string]*task),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add registers a task. Names are unique.
func (s *Scheduler) Add(name, schedule string, fn TaskFunc) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}

	t := &task{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.run(t) })
	if err != nil {
		return fmt.Errorf("scheduling task %q: %w", name, err)
	}
	t.entry = id
	s.tasks[name] = t
	return nil
}

// Start begins executing tasks on their schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop stops the scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow executes a task synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %q not found", name)
	}
	return s.execute(ctx, t)
}

// Status returns the registered tasks ordered by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		status := TaskStatus{
			Name:      t.name,
			Schedule:  t.schedule,
			LastRun:   t.lastRun,
			LastError: t.lastError,
			Runs:      t.runs,
		}
		if sched, err := s.parser.Parse(t.schedule); err == nil {
			status.NextRun = sched.Next(time.Now())
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// run is the cron callback.
func (s *Scheduler) run(t *task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.execute(ctx, t); err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()))
	}
}

// execute runs t unless a previous run is still in progress.
func (s *Scheduler) execute(ctx context.Context, t *task) error {
	s.mu.Lock()
	if t.running {
		s.mu.Unlock()
		s.logger.Debug("skipping overlapping task run", slog.String("task", t.name))
		return nil
	}
	t.running = true
	s.mu.Unlock()

	start := time.Now()
	err := t.fn(ctx)

	s.mu.Lock()
	t.running = false
	t.runs++
	t.lastRun = start
	t.lastError = ""
	if err != nil {
		t.lastError = err.Error()
	}
	s.mu.Unlock()

	s.logger.Debug("task finished",
		slog.String("task", t.name),
		slog.Duration("duration", time.Since(start)))
	return err
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
