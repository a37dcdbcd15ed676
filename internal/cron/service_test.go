package cron

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agent-diva/diva/internal/observability"
	"github.com/agent-diva/diva/pkg/divamodel"
)

func newTestService(t *testing.T, runner Runner) *Service {
	t.Helper()
	dir := t.TempDir()
	execPath := filepath.Join(dir, "executions.db")
	execStore, err := NewSQLiteExecutionStore(execPath)
	if err != nil {
		t.Fatalf("NewSQLiteExecutionStore: %v", err)
	}
	t.Cleanup(func() { execStore.Close() })

	svc := NewService(filepath.Join(dir, "jobs.json"), execStore, runner, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestService_AddListRemoveJob(t *testing.T) {
	svc := newTestService(t, nil)

	job := svc.AddJob("daily report", divamodel.Schedule{
		Kind:    divamodel.ScheduleEvery,
		EveryMs: int64(time.Hour / time.Millisecond),
	}, divamodel.CronPayload{Content: "send the report"}, false)

	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.State.NextRunAtMs == nil {
		t.Fatal("expected next_run_at_ms to be set for an every-schedule job")
	}

	listed := svc.ListJobs(true)
	if len(listed) != 1 || listed[0].ID != job.ID {
		t.Fatalf("ListJobs = %+v, want one job matching %s", listed, job.ID)
	}

	if !svc.RemoveJob(job.ID) {
		t.Fatal("RemoveJob should report true for an existing job")
	}
	if svc.RemoveJob(job.ID) {
		t.Fatal("RemoveJob should report false for an already-removed job")
	}
	if len(svc.ListJobs(true)) != 0 {
		t.Fatal("expected no jobs left after removal")
	}
}

func TestService_EnableDisableJob(t *testing.T) {
	svc := newTestService(t, nil)
	job := svc.AddJob("weekly digest", divamodel.Schedule{
		Kind:    divamodel.ScheduleEvery,
		EveryMs: int64(time.Hour / time.Millisecond),
	}, divamodel.CronPayload{Content: "digest"}, false)

	disabled, ok := svc.EnableJob(job.ID, false)
	if !ok {
		t.Fatal("EnableJob should find the job")
	}
	if disabled.Enabled {
		t.Fatal("expected job to be disabled")
	}
	if disabled.State.NextRunAtMs != nil {
		t.Fatal("disabling a job should clear its next run time")
	}

	listedEnabledOnly := svc.ListJobs(false)
	if len(listedEnabledOnly) != 0 {
		t.Fatalf("ListJobs(false) should exclude disabled jobs, got %+v", listedEnabledOnly)
	}

	reenabled, ok := svc.EnableJob(job.ID, true)
	if !ok || !reenabled.Enabled {
		t.Fatal("expected job to be re-enabled")
	}
	if reenabled.State.NextRunAtMs == nil {
		t.Fatal("re-enabling should recompute next run time")
	}
}

func TestService_RunJobForcesDisabledJob(t *testing.T) {
	var ran []string
	runner := RunnerFunc(func(_ context.Context, job divamodel.CronJob) (string, error) {
		ran = append(ran, job.ID)
		return "done", nil
	})
	svc := newTestService(t, runner)

	job := svc.AddJob("one-shot", divamodel.Schedule{
		Kind: divamodel.ScheduleAt,
		AtMs: nowMs() + int64(time.Hour/time.Millisecond),
	}, divamodel.CronPayload{Content: "hi"}, false)

	svc.EnableJob(job.ID, false)

	if svc.RunJob(context.Background(), job.ID, false) {
		t.Fatal("RunJob without force should refuse a disabled job")
	}
	if len(ran) != 0 {
		t.Fatal("runner should not have been invoked")
	}

	if !svc.RunJob(context.Background(), job.ID, true) {
		t.Fatal("RunJob with force should run a disabled job")
	}
	if len(ran) != 1 || ran[0] != job.ID {
		t.Fatalf("expected runner invoked once for %s, got %+v", job.ID, ran)
	}
}

func TestService_AtJobDisablesAfterRunUnlessDeleteAfterRun(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(_ context.Context, _ divamodel.CronJob) (string, error) {
		return "", nil
	}))

	keep := svc.AddJob("keep after run", divamodel.Schedule{
		Kind: divamodel.ScheduleAt,
		AtMs: nowMs() - 1,
	}, divamodel.CronPayload{Content: "a"}, false)

	del := svc.AddJob("delete after run", divamodel.Schedule{
		Kind: divamodel.ScheduleAt,
		AtMs: nowMs() - 1,
	}, divamodel.CronPayload{Content: "b"}, true)

	svc.RunJob(context.Background(), keep.ID, true)
	svc.RunJob(context.Background(), del.ID, true)

	kept, ok := svc.store.find(keep.ID)
	if !ok {
		t.Fatal("expected keep-after-run job to still exist")
	}
	if kept.Enabled {
		t.Fatal("a one-shot At job should disable itself after running")
	}

	if _, ok := svc.store.find(del.ID); ok {
		t.Fatal("expected delete-after-run job to be removed")
	}
}

func TestService_RunJobRecordsExecutionError(t *testing.T) {
	wantErr := errors.New("boom")
	svc := newTestService(t, RunnerFunc(func(_ context.Context, _ divamodel.CronJob) (string, error) {
		return "", wantErr
	}))

	job := svc.AddJob("flaky", divamodel.Schedule{
		Kind:    divamodel.ScheduleEvery,
		EveryMs: int64(time.Hour / time.Millisecond),
	}, divamodel.CronPayload{Content: "flaky"}, false)

	if !svc.RunJob(context.Background(), job.ID, false) {
		t.Fatal("expected RunJob to execute an enabled job")
	}

	updated, ok := svc.store.find(job.ID)
	if !ok {
		t.Fatal("expected job to still exist")
	}
	if updated.State.LastStatus != "error" {
		t.Fatalf("LastStatus = %q, want error", updated.State.LastStatus)
	}
	if updated.State.LastError != wantErr.Error() {
		t.Fatalf("LastError = %q, want %q", updated.State.LastError, wantErr.Error())
	}

	history, err := svc.execStore.List(context.Background(), job.ID, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 1 || history[0].Status != "error" {
		t.Fatalf("execution history = %+v, want one error record", history)
	}
}

func TestService_RunJobRecordsMetrics(t *testing.T) {
	svc := newTestService(t, RunnerFunc(func(_ context.Context, _ divamodel.CronJob) (string, error) {
		return "done", nil
	}))
	m := observability.NewMetrics()
	svc.SetMetrics(m)

	job := svc.AddJob("daily digest", divamodel.Schedule{
		Kind:    divamodel.ScheduleEvery,
		EveryMs: int64(time.Hour / time.Millisecond),
	}, divamodel.CronPayload{Content: "digest"}, false)

	if !svc.RunJob(context.Background(), job.ID, false) {
		t.Fatal("expected RunJob to execute an enabled job")
	}

	if count := testutil.ToFloat64(m.CronJobRuns.WithLabelValues(job.ID, "ok")); count != 1 {
		t.Errorf("CronJobRuns = %v, want 1", count)
	}
}

func TestService_StatusReportsJobCountAndWake(t *testing.T) {
	svc := newTestService(t, nil)
	if s := svc.Status(); s["jobs"] != 0 || s["enabled"] != true {
		t.Fatalf("Status() = %+v, want zero jobs, enabled true", s)
	}

	svc.AddJob("x", divamodel.Schedule{
		Kind:    divamodel.ScheduleEvery,
		EveryMs: int64(time.Hour / time.Millisecond),
	}, divamodel.CronPayload{Content: "x"}, false)

	s := svc.Status()
	if s["jobs"] != 1 {
		t.Fatalf("Status()[jobs] = %v, want 1", s["jobs"])
	}
	if s["next_wake_at_ms"] == nil {
		t.Fatal("expected a next wake time with a pending job")
	}

	svc.Stop()
	if s := svc.Status(); s["enabled"] != false {
		t.Fatalf("Status() after Stop = %+v, want enabled false", s)
	}
}
