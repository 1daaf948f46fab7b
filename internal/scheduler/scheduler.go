package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeScout/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// State of a periodic task.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// Names of the daemon's tasks.
const (
	TaskScan    = "scan"
	TaskMonitor = "monitor"
)

// ErrRunInProgress is returned by RunNow while the task is executing.
var ErrRunInProgress = errors.New("task run already in progress")

// RunFunc is one execution of a task. ctx expires after the task interval.
type RunFunc func(ctx context.Context) error

// Status is a snapshot of a task handle.
type Status struct {
	Name     string        `json:"name"`
	State    State         `json:"state"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
	Next     *time.Time    `json:"next_run,omitempty"`
	InFlight bool          `json:"in_flight"`
}

// Scheduler owns the cron engine and the task handles registered on it.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger

	mu     sync.Mutex
	tasks  map[string]*Task
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Scheduled runs never overlap and a panicking run
// is logged instead of crashing the process.
func New(lgr *logger.Logger) *Scheduler {
	cl := cronLogger{zl: lgr.Zerolog().With().Str("component", "cron").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: lgr.With(logger.String("component", "scheduler")),
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the cron engine. Tasks still need their own Start.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Register adds a task in the Stopped state.
func (s *Scheduler) Register(name string, interval time.Duration, fn RunFunc) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("task %s: interval must be positive, got %s", name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return nil, fmt.Errorf("task %s already registered", name)
	}
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		sched:    s,
		state:    StateStopped,
		logger:   s.logger.With(logger.String("task", name)),
	}
	s.tasks[name] = t
	return t, nil
}

// Task returns the handle registered under name.
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Statuses returns every task's status ordered by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Task is a periodic job handle with an explicit Stopped/Running state.
type Task struct {
	name     string
	interval time.Duration
	fn       RunFunc
	sched    *Scheduler
	logger   *logger.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	state   State
	entry   cron.EntryID
	runs    int
	lastRun *time.Time
	lastErr string
	running bool
}

func (t *Task) Name() string { return t.name }

// Start schedules the task every interval. Starting a running task is a no-op.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		return nil
	}
	id, err := t.sched.cron.AddFunc(fmt.Sprintf("@every %s", t.interval), func() {
		if err := t.run(t.sched.ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			t.logger.Warn("scheduled run failed", logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", t.name, err)
	}
	t.entry = id
	t.state = StateRunning
	t.logger.Info("task started", logger.Duration("interval", t.interval))
	return nil
}

// Stop unschedules the task. An in-flight run completes. Stopping a stopped
// task is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStopped {
		return
	}
	t.sched.cron.Remove(t.entry)
	t.entry = 0
	t.state = StateStopped
	t.logger.Info("task stopped")
}

// RunNow executes the task once outside the schedule.
func (t *Task) RunNow(ctx context.Context) error {
	return t.run(ctx)
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		Name:     t.name,
		State:    t.state,
		Interval: t.interval,
		Runs:     t.runs,
		LastErr:  t.lastErr,
		InFlight: t.running,
	}
	if t.lastRun != nil {
		at := *t.lastRun
		st.LastRun = &at
	}
	if t.state == StateRunning {
		if next := t.sched.cron.Entry(t.entry).Next; !next.IsZero() {
			st.Next = &next
		}
	}
	return st
}

func (t *Task) run(parent context.Context) (err error) {
	if !t.runMu.TryLock() {
		return fmt.Errorf("%s: %w", t.name, ErrRunInProgress)
	}
	defer t.runMu.Unlock()

	ctx, cancel := context.WithTimeout(parent, t.interval)
	defer cancel()

	start := time.Now()
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", t.name, r)
		}
		t.mu.Lock()
		t.running = false
		t.runs++
		t.lastRun = &start
		t.lastErr = ""
		if err != nil {
			t.lastErr = err.Error()
		}
		t.mu.Unlock()
		t.logger.Debug("run finished", logger.Duration("took", time.Since(start)), logger.Bool("ok", err == nil))
	}()
	return t.fn(ctx)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	zl zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.zl.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.zl.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
