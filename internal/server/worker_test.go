package server

import (
	"context"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/shiftnoise/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
	if !updated.Feasible || updated.Gap >= job.Config.Tol {
		t.Errorf("Expected feasible converged job, got feasible=%v gap=%v", updated.Feasible, updated.Gap)
	}
	if len(updated.Grid) != 9 || len(updated.Distribution) != 9 {
		t.Errorf("Expected 9 bins, got grid %d distribution %d", len(updated.Grid), len(updated.Distribution))
	}
	if floats.Min(updated.Distribution) <= 0 {
		t.Error("Distribution should be positive")
	}
	if updated.Record != "" {
		t.Error("No record should be saved without a store")
	}
}

func TestRunJob_SavesRecordAndTrace(t *testing.T) {
	records, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	if err := runJob(context.Background(), jm, records, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.Record != store.RecordName(job.Config) {
		t.Fatalf("Expected record %s, got %q", store.RecordName(job.Config), updated.Record)
	}
	rec, err := records.LoadRecord(updated.Record)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if rec.PrimalObjective != updated.Primal {
		t.Errorf("Record objective %v differs from job %v", rec.PrimalObjective, updated.Primal)
	}

	reader, err := store.NewTraceReader(records.BaseDir(), updated.Record)
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// one entry per Newton step plus the converged check
	if len(entries) != updated.Iteration+1 {
		t.Errorf("Expected %d trace entries, got %d", updated.Iteration+1, len(entries))
	}
}

func TestRunJob_InvalidConfig(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.CostBound = 0
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Error("runJob should fail with an invalid config")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_IterationLimit(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.MaxIter = 2
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Fatal("runJob should fail at the iteration limit")
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if len(updated.Distribution) == 0 {
		t.Error("partial distribution should be kept")
	}
}

func TestRunJob_Cancelled(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runJob(ctx, jm, nil, job.ID)

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), nil, "missing"); err == nil {
		t.Error("runJob should fail for an unknown job")
	}
}

func TestRunJob_BroadcastsFinalState(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())
	ch := jm.broadcaster.Subscribe(job.ID)
	defer jm.broadcaster.Unsubscribe(job.ID, ch)

	go runJob(context.Background(), jm, nil, job.ID)

	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.State == StateCompleted {
				if !ev.Feasible {
					t.Error("final event should be feasible")
				}
				return
			}
		case <-timeout:
			t.Fatal("Timeout waiting for completion event")
		}
	}
}
