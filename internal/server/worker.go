package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
	"github.com/cwbudde/shiftnoise/internal/store"
)

// progressInterval throttles broadcasts to the SSE clients.
var progressInterval = 500 * time.Millisecond

// runJob executes a solve in the background.
// If records is not nil, the iteration trace is written next to the record and
// the converged mechanism is saved.
func runJob(ctx context.Context, jm *JobManager, records *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	solver, err := mechanism.NewSolver(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, err)
		broadcastState(jm, jobID)
		return err
	}

	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Grid = append([]float64(nil), solver.Model().Points...)
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"mode", job.Config.Mode,
		"quantization", job.Config.Quantization,
		"xmax", job.Config.XMax,
		"cost_bound", job.Config.CostBound,
	)

	var obs mechanism.Observer = jobObserver(jm, jobID)
	var trace *store.TraceWriter
	if records != nil {
		trace, err = store.NewTraceWriter(records.BaseDir(), store.RecordName(job.Config), false)
		if err != nil {
			slog.Warn("Failed to open trace, continuing without", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
			obs = fanOut{obs, trace}
		}
	}

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)

	start := time.Now()
	result, err := solver.Run(ctx, obs)
	close(progressDone)
	elapsed := time.Since(start)

	if err != nil {
		if result != nil {
			jm.UpdateJob(jobID, func(j *Job) {
				j.Iteration = result.Iterations
				j.Primal = result.PrimalObjective
				j.Gap = result.Gap
				j.Distribution = append([]float64(nil), result.Distribution...)
			})
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, err)
		}
		broadcastState(jm, jobID)
		return err
	}

	var recordName string
	if records != nil {
		rec := store.NewRecord(result)
		if err := records.SaveRecord(rec); err != nil {
			slog.Error("Failed to save record", "job_id", jobID, "error", err)
		} else {
			recordName = rec.Name
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Iteration = result.Iterations
		j.Primal = result.PrimalObjective
		j.Temperature = result.Temperature
		j.Gap = result.Gap
		j.Feasible = result.Feasible
		j.ShiftFraction = float64(result.ArgmaxShift) / float64(result.Model.Quantization)
		j.Distribution = append([]float64(nil), result.Distribution...)
		j.Record = recordName
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"iterations", result.Iterations,
		"primal", result.PrimalObjective,
		"gap", result.Gap,
		"record", recordName,
	)

	broadcastState(jm, jobID)
	return nil
}

// jobObserver copies solver diagnostics into the job.
func jobObserver(jm *JobManager, jobID string) mechanism.Observer {
	return mechanism.ObserverFunc(func(info mechanism.IterationInfo) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iteration = info.Iteration
			j.Primal = info.Primal
			j.Temperature = info.Temperature
			j.Gap = info.Gap
			j.Feasible = info.Feasible
			j.ShiftFraction = info.ShiftFraction
			if info.Distribution != nil {
				j.Distribution = info.Distribution
			}
		})
	})
}

// fanOut forwards each iteration to every observer in order.
type fanOut []mechanism.Observer

func (f fanOut) Observe(info mechanism.IterationInfo) {
	for _, o := range f {
		o.Observe(info)
	}
}

// monitorProgress periodically broadcasts progress events during a solve
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job))
		}
	}
}

// broadcastState sends the current, usually final, state of a job.
func broadcastState(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job))
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
