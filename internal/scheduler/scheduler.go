// Package scheduler runs periodic and cron-based background jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
)

// TaskFunc performs one run of a scheduled task. The context is cancelled
// when the scheduler stops or the task's timeout elapses.
type TaskFunc func(ctx context.Context) error

// Schedule decides when a task runs next.
type Schedule interface {
	// Next returns the next run time strictly relative to the given time.
	Next(after time.Time) time.Time
}

// Task is a registered background job.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool
	Timeout     time.Duration

	// MaxRetries is how many times a failed run is retried before the
	// task waits for its next scheduled slot. RetryDelay is the pause
	// between attempts.
	MaxRetries int
	RetryDelay time.Duration
}

// TaskStatus is the observable state of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Enabled      bool          `json:"enabled"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastRetries  int           `json:"last_retries,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// Scheduler manages and runs the registered tasks.
type Scheduler struct {
	tasks   map[string]*taskEntry
	mu      sync.RWMutex
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type taskEntry struct {
	task       *Task
	status     TaskStatus
	nextRun    time.Time
	cancelFunc context.CancelFunc
}

// New creates an empty scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		tasks:  make(map[string]*taskEntry),
		logger: logger.WithComponent("scheduler"),
	}
}

// AddTask registers a task. IDs must be unique.
func (s *Scheduler) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task schedule is required")
	}
	if task.Func == nil {
		return fmt.Errorf("task function is required")
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	entry := &taskEntry{
		task: task,
		status: TaskStatus{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Enabled:     task.Enabled,
		},
	}
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(clock.Now())
		entry.status.NextRun = entry.nextRun
	}

	s.tasks[task.ID] = entry
	s.logger.Info("task added", "id", task.ID, "name", task.Name)
	return nil
}

// RemoveTask unregisters a task and cancels it if it is running.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	if entry.cancelFunc != nil {
		entry.cancelFunc()
	}
	delete(s.tasks, id)
	s.logger.Info("task removed", "id", id)
	return nil
}

// EnableTask toggles a task on or off.
func (s *Scheduler) EnableTask(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	entry.task.Enabled = enabled
	entry.status.Enabled = enabled
	if enabled {
		entry.nextRun = entry.task.Schedule.Next(clock.Now())
	} else {
		entry.nextRun = time.Time{}
	}
	entry.status.NextRun = entry.nextRun
	return nil
}

// RunTask triggers one run immediately, regardless of schedule.
func (s *Scheduler) RunTask(id string) error {
	s.mu.RLock()
	entry, exists := s.tasks[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	go s.executeTask(entry)
	return nil
}

// GetStatus returns all task statuses sorted by name.
func (s *Scheduler) GetStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		statuses = append(statuses, entry.status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// GetTaskStatus returns the status of one task.
func (s *Scheduler) GetTaskStatus(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, false
	}
	return entry.status, true
}

// Start begins dispatching tasks. RunOnStart tasks fire immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started")

	s.mu.RLock()
	for _, entry := range s.tasks {
		if entry.task.Enabled && entry.task.RunOnStart {
			go s.executeTask(entry)
		}
	}
	s.mu.RUnlock()

	go s.run()
}

// Stop cancels the loop and waits for in-flight tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the dispatch loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.checkAndRunTasks(now)
		}
	}
}

func (s *Scheduler) checkAndRunTasks(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tasks {
		if !entry.task.Enabled || entry.nextRun.IsZero() {
			continue
		}
		if !now.Before(entry.nextRun) {
			// Advance before dispatch so a slow task is not re-fired
			// on the next tick.
			entry.nextRun = entry.task.Schedule.Next(now)
			entry.status.NextRun = entry.nextRun
			go s.executeTask(entry)
		}
	}
}

// executeTask runs one task with retry on failure.
func (s *Scheduler) executeTask(entry *taskEntry) {
	s.wg.Add(1)
	defer s.wg.Done()

	task := entry.task
	s.logger.Debug("executing task", "id", task.ID)

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	s.mu.Lock()
	entry.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		entry.cancelFunc = nil
		s.mu.Unlock()
	}()

	start := clock.Now()
	var err error
	retries := 0
	for attempt := 0; ; attempt++ {
		err = task.Func(ctx)
		if err == nil || attempt >= task.MaxRetries {
			break
		}
		retries++
		s.logger.Warn("task failed, retrying",
			"id", task.ID, "attempt", attempt+1, "max_retries", task.MaxRetries, "error", err)
		if !sleepCtx(ctx, task.RetryDelay) {
			break
		}
	}
	duration := time.Since(start)
	metrics.Get().RecordTaskRun(task.ID, err, retries, duration.Seconds())

	s.mu.Lock()
	entry.status.LastRun = start
	entry.status.LastDuration = duration
	entry.status.LastRetries = retries
	entry.status.RunCount++
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
		s.logger.Warn("task failed", "id", task.ID, "retries", retries, "error", err)
	} else {
		entry.status.LastError = ""
		s.logger.Debug("task completed", "id", task.ID, "duration", duration)
	}
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(clock.Now())
		entry.status.NextRun = entry.nextRun
	}
	s.mu.Unlock()
}

// sleepCtx waits for d or until the context is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
