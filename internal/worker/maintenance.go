package worker

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/crossnotify/crossnotify/internal/relay"
)

// Relay is the part of the relay service the maintenance job drives.
type Relay interface {
	UpdateLastSeen(ctx context.Context)
	CleanupExpired(ctx context.Context) int
	CleanupOldDeliveryRecords(ctx context.Context, olderThanDays int) int
}

// Router is the part of the routing service the maintenance job drives.
type Router interface {
	BroadcastPresence(ctx context.Context)
	RefreshPresence(ctx context.Context) int
	CheckForPendingNotifications(ctx context.Context) (int, error)
}

// ClearanceSync applies clearances made on other devices.
type ClearanceSync interface {
	FetchSyncedClearances(ctx context.Context) (int, error)
}

// MaintenanceJob runs the periodic device tasks: heartbeat, mailbox poll,
// clearance sync and cleanup.
type MaintenanceJob struct {
	config     MaintenanceConfig
	logger     zerolog.Logger
	relay      Relay
	router     Router
	clearances ClearanceSync
	limiter    *rate.Limiter

	metrics *MaintenanceMetrics
}

// MaintenanceMetrics tracks maintenance job statistics.
type MaintenanceMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRuns      int64
	FailedRuns     int64
	SkippedRuns    int64
	PeersSeen      int64
	Presented      int64
	ClearancesSeen int64
	ExpiredDeleted int64
	RecordsDeleted int64

	// Timings
	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// MaintenanceJobConfig holds configuration for creating a MaintenanceJob.
type MaintenanceJobConfig struct {
	Config     MaintenanceConfig
	Logger     zerolog.Logger
	Relay      Relay
	Router     Router        // nil disables the presence and poll tasks
	Clearances ClearanceSync // nil disables the clearance task
}

// NewMaintenanceJob creates a new maintenance job.
func NewMaintenanceJob(cfg MaintenanceJobConfig) *MaintenanceJob {
	config := cfg.Config.withDefaults()

	var limiter *rate.Limiter
	if qps := config.StoreQueriesPerSecond; qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), int(math.Max(1, math.Ceil(qps))))
	}

	return &MaintenanceJob{
		config:     config,
		logger:     cfg.Logger.With().Str("component", "maintenance").Logger(),
		relay:      cfg.Relay,
		router:     cfg.Router,
		clearances: cfg.Clearances,
		limiter:    limiter,
		metrics:    &MaintenanceMetrics{},
	}
}

// TaskResult contains the result of a single task run.
type TaskResult struct {
	Task     string
	Count    int
	Skipped  bool
	Err      error
	Duration time.Duration
}

// RunResult contains the results of running every task once.
type RunResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Successful int
	Failed     int
	Skipped    int
	Tasks      []TaskResult
}

// Tasks returns the names of the configured tasks in run order. A task
// whose service was not given is left out.
func (j *MaintenanceJob) Tasks() []string {
	var tasks []string
	if j.router != nil {
		tasks = append(tasks, TaskPresence, TaskPoll)
	}
	if j.clearances != nil {
		tasks = append(tasks, TaskClearances)
	}
	if j.relay != nil {
		tasks = append(tasks, TaskCleanup)
	}
	return tasks
}

// Run executes every task once, concurrently.
func (j *MaintenanceJob) Run(ctx context.Context) *RunResult {
	startTime := time.Now()
	result := &RunResult{StartTime: startTime}

	tasks := j.Tasks()
	tasksChan := make(chan string, len(tasks))
	resultsChan := make(chan TaskResult, len(tasks))

	var wg sync.WaitGroup
	for range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range tasksChan {
				resultsChan <- j.RunTask(ctx, name)
			}
		}()
	}

	for _, name := range tasks {
		tasksChan <- name
	}
	close(tasksChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for tr := range resultsChan {
		switch {
		case tr.Skipped:
			result.Skipped++
		case tr.Err != nil:
			result.Failed++
		default:
			result.Successful++
		}
		result.Tasks = append(result.Tasks, tr)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("maintenance run completed")

	return result
}

// Start runs each task on its own ticker until ctx is cancelled.
func (j *MaintenanceJob) Start(ctx context.Context) {
	j.logger.Info().
		Dur("presence_interval", j.config.PresenceInterval).
		Dur("poll_interval", j.config.PollInterval).
		Dur("clearance_interval", j.config.ClearanceInterval).
		Dur("cleanup_interval", j.config.CleanupInterval).
		Msg("starting maintenance job")

	var wg sync.WaitGroup
	for _, name := range j.Tasks() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			j.loop(ctx, name)
		}(name)
	}
	wg.Wait()

	j.logger.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) loop(ctx context.Context, name string) {
	ticker := time.NewTicker(j.config.Interval(name))
	defer ticker.Stop()

	j.RunTask(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunTask(ctx, name)
		}
	}
}

// RunTask runs the named task once and records its outcome.
func (j *MaintenanceJob) RunTask(ctx context.Context, name string) TaskResult {
	start := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	var tr TaskResult
	switch name {
	case TaskPresence:
		tr = j.runPresence(taskCtx)
	case TaskPoll:
		tr = j.runPoll(taskCtx)
	case TaskClearances:
		tr = j.runClearances(taskCtx)
	case TaskCleanup:
		tr = j.runCleanup(taskCtx)
	default:
		tr = TaskResult{Err: errors.New("unknown task")}
	}
	tr.Task = name
	tr.Duration = time.Since(start)

	j.updateMetrics(tr)

	event := j.logger.Debug()
	if tr.Err != nil {
		event = j.logger.Warn().Err(tr.Err)
	}
	event.
		Str("task", name).
		Int("count", tr.Count).
		Bool("skipped", tr.Skipped).
		Dur("duration", tr.Duration).
		Msg("maintenance task finished")

	return tr
}

func (j *MaintenanceJob) runPresence(ctx context.Context) TaskResult {
	if j.router == nil {
		return TaskResult{Skipped: true}
	}
	if j.relay != nil {
		if err := j.wait(ctx); err != nil {
			return TaskResult{Err: err}
		}
		j.relay.UpdateLastSeen(ctx)
	}
	if err := j.wait(ctx); err != nil {
		return TaskResult{Err: err}
	}
	j.router.BroadcastPresence(ctx)

	if err := j.wait(ctx); err != nil {
		return TaskResult{Err: err}
	}
	n := j.router.RefreshPresence(ctx)
	atomic.AddInt64(&j.metrics.PeersSeen, int64(n))
	return TaskResult{Count: n}
}

func (j *MaintenanceJob) runPoll(ctx context.Context) TaskResult {
	if j.router == nil {
		return TaskResult{Skipped: true}
	}
	if err := j.wait(ctx); err != nil {
		return TaskResult{Err: err}
	}
	n, err := j.router.CheckForPendingNotifications(ctx)
	if errors.Is(err, relay.ErrNotRegistered) {
		return TaskResult{Skipped: true}
	}
	if err != nil {
		return TaskResult{Err: err}
	}
	atomic.AddInt64(&j.metrics.Presented, int64(n))
	return TaskResult{Count: n}
}

func (j *MaintenanceJob) runClearances(ctx context.Context) TaskResult {
	if j.clearances == nil {
		return TaskResult{Skipped: true}
	}
	if err := j.wait(ctx); err != nil {
		return TaskResult{Err: err}
	}
	n, err := j.clearances.FetchSyncedClearances(ctx)
	if err != nil {
		return TaskResult{Err: err}
	}
	atomic.AddInt64(&j.metrics.ClearancesSeen, int64(n))
	return TaskResult{Count: n}
}

func (j *MaintenanceJob) runCleanup(ctx context.Context) TaskResult {
	if j.relay == nil {
		return TaskResult{Skipped: true}
	}
	if err := j.wait(ctx); err != nil {
		return TaskResult{Err: err}
	}
	expired := j.relay.CleanupExpired(ctx)
	atomic.AddInt64(&j.metrics.ExpiredDeleted, int64(expired))

	if err := j.wait(ctx); err != nil {
		return TaskResult{Count: expired, Err: err}
	}
	old := j.relay.CleanupOldDeliveryRecords(ctx, j.config.DeliveryRetentionDays)
	atomic.AddInt64(&j.metrics.RecordsDeleted, int64(old))

	return TaskResult{Count: expired + old}
}

// wait blocks until the shared store budget allows another call.
func (j *MaintenanceJob) wait(ctx context.Context) error {
	if j.limiter == nil {
		return nil
	}
	return j.limiter.Wait(ctx)
}

func (j *MaintenanceJob) updateMetrics(tr TaskResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	switch {
	case tr.Skipped:
		j.metrics.SkippedRuns++
	case tr.Err != nil:
		j.metrics.FailedRuns++
	}
	j.metrics.LastRunAt = time.Now()
	j.metrics.LastRunDuration = tr.Duration
	j.metrics.TotalDuration += tr.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *MaintenanceJob) GetMetrics() MaintenanceMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return MaintenanceMetrics{
		TotalRuns:       j.metrics.TotalRuns,
		FailedRuns:      j.metrics.FailedRuns,
		SkippedRuns:     j.metrics.SkippedRuns,
		PeersSeen:       atomic.LoadInt64(&j.metrics.PeersSeen),
		Presented:       atomic.LoadInt64(&j.metrics.Presented),
		ClearancesSeen:  atomic.LoadInt64(&j.metrics.ClearancesSeen),
		ExpiredDeleted:  atomic.LoadInt64(&j.metrics.ExpiredDeleted),
		RecordsDeleted:  atomic.LoadInt64(&j.metrics.RecordsDeleted),
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *MaintenanceJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"failed_runs":       m.FailedRuns,
		"skipped_runs":      m.SkippedRuns,
		"peers_seen":        m.PeersSeen,
		"presented":         m.Presented,
		"clearances_seen":   m.ClearancesSeen,
		"expired_deleted":   m.ExpiredDeleted,
		"records_deleted":   m.RecordsDeleted,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
