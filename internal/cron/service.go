package cron

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/pkg/divamodel"
)

// Runner executes one due job's payload — typically by injecting a
// synthetic message into the agent loop via the bus — and reports back
// an optional response string for status tracking.
type Runner interface {
	Run(ctx context.Context, job divamodel.CronJob) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job divamodel.CronJob) (string, error)

func (f RunnerFunc) Run(ctx context.Context, job divamodel.CronJob) (string, error) {
	return f(ctx, job)
}

// Service owns the job store, a single timer armed for the earliest
// enabled job's next run, and the execution history store. Only one
// timer is ever outstanding: every mutation that can change the
// earliest deadline (add/remove/enable/a job firing) cancels and
// re-arms it, rather than polling on a fixed tick.
type Service struct {
	log       *slog.Logger
	store     *jobStore
	execStore ExecutionStore
	runner    Runner
	metrics   *observability.Metrics

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// SetMetrics attaches a metrics sink recorded into on every job firing.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// NewService returns a service whose job definitions live at storePath
// (a JSON file) and whose run history is recorded to execStore. execStore
// and runner may be nil; a nil runner makes every job a no-op that still
// advances its schedule, useful for dry runs and tests.
func NewService(storePath string, execStore ExecutionStore, runner Runner, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:       log.With("component", "cron"),
		store:     newJobStore(storePath),
		execStore: execStore,
		runner:    runner,
	}
}

// Start loads the job store, recomputes every enabled job's next run
// time against the current clock (covering schedules that lapsed while
// the process was down), and arms the timer.
func (s *Service) Start(ctx context.Context) error {
	if err := s.store.load(); err != nil {
		return err
	}

	now := nowMs()
	for _, job := range s.store.snapshot() {
		if !job.Enabled {
			continue
		}
		job.State.NextRunAtMs = computeNextRun(job.Schedule, now, s.log)
		s.store.update(job)
	}
	if err := s.store.save(); err != nil {
		s.log.Warn("failed to save cron store on start", "error", err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.armTimer()
	s.log.Info("cron service started", "jobs", len(s.store.snapshot()))
	return nil
}

// Stop cancels the outstanding timer. A job execution already in flight
// runs to completion.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// armTimer cancels any outstanding timer and schedules a new one for
// the earliest enabled job's next run, or stays idle if none is due.
func (s *Service) armTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.running {
		return
	}

	next := s.store.earliestWake()
	if next == nil {
		return
	}
	delayMs := *next - nowMs()
	if delayMs < 0 {
		delayMs = 0
	}
	s.timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		s.onTimer(context.Background())
	})
}

// onTimer fires every due job, persists the updated store, and
// re-arms for whatever the next earliest deadline now is.
func (s *Service) onTimer(ctx context.Context) {
	now := nowMs()
	due := s.store.due(now)
	for _, job := range due {
		s.executeJob(ctx, job)
	}
	if err := s.store.save(); err != nil {
		s.log.Warn("failed to save cron store after timer fire", "error", err)
	}
	s.armTimer()
}

// executeJob runs one job's callback, updates its run state, and
// advances (or retires) its schedule. Callers are responsible for
// saving the store and re-arming the timer afterward.
func (s *Service) executeJob(ctx context.Context, job divamodel.CronJob) {
	s.log.Info("executing cron job", "id", job.ID, "name", job.Name)
	startedAt := time.Now()

	var response string
	var err error
	if s.runner != nil {
		response, err = s.runner.Run(ctx, job)
	}

	job.State.LastRunAtMs = ptrInt64(nowMs())
	job.UpdatedAtMs = nowMs()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		s.log.Warn("cron job failed", "id", job.ID, "error", err)
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	s.metrics.RecordCronRun(job.ID, job.State.LastStatus)

	if s.execStore != nil {
		status := job.State.LastStatus
		errMsg := job.State.LastError
		if recErr := s.execStore.Record(ctx, Execution{
			JobID: job.ID, StartedAt: startedAt, Status: status, Response: response, Error: errMsg,
		}); recErr != nil {
			s.log.Warn("failed to record cron execution", "id", job.ID, "error", recErr)
		}
	}

	switch job.Schedule.Kind {
	case divamodel.ScheduleAt:
		if job.DeleteAfterRun {
			s.store.remove(job.ID)
			return
		}
		job.Enabled = false
		job.State.NextRunAtMs = nil
	default:
		job.State.NextRunAtMs = computeNextRun(job.Schedule, nowMs(), s.log)
	}
	s.store.update(job)
}

// ListJobs returns jobs sorted by next run time (jobs with no pending
// run sort last). includeDisabled controls whether disabled jobs are
// included.
func (s *Service) ListJobs(includeDisabled bool) []divamodel.CronJob {
	jobs := s.store.snapshot()
	var out []divamodel.CronJob
	for _, j := range jobs {
		if !includeDisabled && !j.Enabled {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i].State.NextRunAtMs, out[k].State.NextRunAtMs
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// AddJob creates and persists a new enabled job, computing its initial
// next run time, and re-arms the timer.
func (s *Service) AddJob(name string, schedule divamodel.Schedule, payload divamodel.CronPayload, deleteAfterRun bool) divamodel.CronJob {
	now := nowMs()
	job := divamodel.CronJob{
		ID:             uuid.NewString()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		State:          divamodel.CronState{NextRunAtMs: computeNextRun(schedule, now, s.log)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}
	s.store.add(job)
	if err := s.store.save(); err != nil {
		s.log.Warn("failed to save cron store after add_job", "error", err)
	}
	s.armTimer()
	s.log.Info("cron job added", "id", job.ID, "name", job.Name)
	return job
}

// RemoveJob deletes a job by id, reporting whether it existed.
func (s *Service) RemoveJob(id string) bool {
	removed := s.store.remove(id)
	if removed {
		if err := s.store.save(); err != nil {
			s.log.Warn("failed to save cron store after remove_job", "error", err)
		}
		s.armTimer()
	}
	return removed
}

// EnableJob flips a job's enabled flag, recomputing (or clearing) its
// next run time accordingly, and returns the updated job.
func (s *Service) EnableJob(id string, enabled bool) (divamodel.CronJob, bool) {
	job, ok := s.store.find(id)
	if !ok {
		return divamodel.CronJob{}, false
	}
	job.Enabled = enabled
	job.UpdatedAtMs = nowMs()
	if enabled {
		job.State.NextRunAtMs = computeNextRun(job.Schedule, nowMs(), s.log)
	} else {
		job.State.NextRunAtMs = nil
	}
	s.store.update(job)
	if err := s.store.save(); err != nil {
		s.log.Warn("failed to save cron store after enable_job", "error", err)
	}
	s.armTimer()
	return job, true
}

// RunJob fires a job immediately outside its normal schedule. A
// disabled job only runs if force is true.
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	job, ok := s.store.find(id)
	if !ok {
		return false
	}
	if !job.Enabled && !force {
		return false
	}
	s.executeJob(ctx, job)
	if err := s.store.save(); err != nil {
		s.log.Warn("failed to save cron store after run_job", "error", err)
	}
	s.armTimer()
	return true
}

// Status reports whether the service is running, how many jobs are
// configured, and the next wake time in Unix milliseconds (nil if no
// job is pending).
func (s *Service) Status() map[string]any {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return map[string]any{
		"enabled":         running,
		"jobs":            len(s.store.snapshot()),
		"next_wake_at_ms": s.store.earliestWake(),
	}
}

func ptrInt64(v int64) *int64 { return &v }
