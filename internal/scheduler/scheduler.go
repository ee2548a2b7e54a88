// Package scheduler runs the periodic dispatch of queued outgoing email.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the dispatch once a minute.
const DefaultSchedule = "* * * * *"

// ErrAlreadyRunning is returned by Trigger while a run is in progress.
var ErrAlreadyRunning = errors.New("dispatch already running")

// DispatchFunc sends whatever is due. It should honor ctx cancellation.
type DispatchFunc func(ctx context.Context) error

// Status describes the dispatcher for health output.
type Status struct {
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Dispatcher invokes a DispatchFunc on a cron schedule, never overlapping
// runs.
type Dispatcher struct {
	cron     *cron.Cron
	fn       DispatchFunc
	logger   *slog.Logger
	schedule string
	entry    cron.EntryID

	mu      sync.RWMutex
	running bool
	runs    int
	lastRun time.Time
	lastErr error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks the in-flight run
	started bool
	stopped bool
}

// New creates a Dispatcher. An empty schedule means DefaultSchedule.
func New(schedule string, fn DispatchFunc) (*Dispatcher, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cron:     cron.New(cron.WithParser(cronParser)),
		fn:       fn,
		logger:   slog.Default(),
		schedule: schedule,
		ctx:      ctx,
		cancel:   cancel,
	}
	id, err := d.cron.AddFunc(schedule, func() {
		if d.claim() {
			d.run()
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	d.entry = id
	return d, nil
}

// WithLogger sets the logger for the dispatcher.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// Start begins executing on schedule.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.started = true
	d.stopped = false
	d.mu.Unlock()

	d.cron.Start()
	d.logger.Info("dispatcher started", "schedule", d.schedule)
}

// IsRunning returns true if the dispatcher has been started and not yet stopped.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started && !d.stopped
}

// Stop halts the schedule, cancels an in-flight run and returns a context
// that is done once it has returned.
func (d *Dispatcher) Stop() context.Context {
	d.logger.Info("dispatcher stopping")

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	cronCtx := d.cron.Stop()
	d.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		d.wg.Wait()
		cancel()
	}()
	return ctx
}

// claim marks a run as started; it fails when stopped or already running.
func (d *Dispatcher) claim() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.running {
		return false
	}
	d.running = true
	d.wg.Add(1)
	return true
}

// run executes one dispatch. The caller must have claimed it.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	start := time.Now()

	err := d.fn(d.ctx)

	d.mu.Lock()
	d.running = false
	d.runs++
	d.lastErr = err
	if err == nil {
		d.lastRun = time.Now()
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("dispatch failed", "duration", time.Since(start), "error", err)
		return
	}
	d.logger.Debug("dispatch completed", "duration", time.Since(start))
}

// Trigger runs a dispatch now, outside the schedule.
func (d *Dispatcher) Trigger() error {
	d.mu.RLock()
	stopped := d.stopped
	d.mu.RUnlock()
	if stopped {
		return fmt.Errorf("dispatcher is stopped")
	}
	if !d.claim() {
		return ErrAlreadyRunning
	}
	go d.run()
	return nil
}

// Status returns a snapshot of the dispatcher state.
func (d *Dispatcher) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Running:  d.running,
		Runs:     d.runs,
		LastRun:  d.lastRun,
		NextRun:  d.cron.Entry(d.entry).Next,
		Schedule: d.schedule,
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	return st
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
