package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"orca/internal/apperrors"
	"orca/internal/job"
	"orca/internal/runner"
)

// Submitter queues background tasks. Implemented by runner.MemoryRunner.
type Submitter interface {
	Submit(task runner.Task) error
}

// Service is the submission, retrieval and listing surface over jobs.
//
// Submit returns as soon as the PENDING job exists; orchestration runs on the
// runner and its outcome is only visible through the job's state.
type Service struct {
	jobs       *job.Manager
	controller *Controller
	runner     Submitter
	metrics    Metrics
}

// NewService creates a service. metrics may be nil.
func NewService(jobs *job.Manager, controller *Controller, r Submitter, metrics Metrics) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		jobs:       jobs,
		controller: controller,
		runner:     r,
		metrics:    metrics,
	}
}

// Submit validates req, creates the job and schedules its orchestration.
// It returns the job as created. When the task cannot be scheduled the job
// is moved to FAILED and an Unavailable error is returned.
// Note: This method normalizes req in place.
func (s *Service) Submit(ctx context.Context, req *job.Request) (*job.Record, error) {
	if err := job.Prepare(req); err != nil {
		return nil, err
	}

	id := s.jobs.Create(ctx, req)
	logger := slog.With("jobId", id)

	rec, ok := s.jobs.Get(id)
	if !ok {
		return nil, apperrors.Internal("job.create", fmt.Errorf("job %s vanished after create", id))
	}
	s.metrics.RecordJobSubmitted(ctx)

	snapshot := rec.Request()
	task := runner.Task{
		JobID: id,
		Run: func(ctx context.Context) error {
			return s.controller.Execute(ctx, id, snapshot)
		},
	}
	if err := s.runner.Submit(task); err != nil {
		logger.Error("Job could not be scheduled", "error", err)
		reason := fmt.Sprintf("orchestration could not be scheduled: %v", err)
		if _, uerr := s.jobs.Update(id, job.Update{Status: job.StatusFailed, Error: reason}); uerr != nil {
			logger.Error("Failed to mark job as failed", "error", uerr)
		}
		return nil, apperrors.Unavailable("runner.submit", err)
	}

	logger.Info("Job accepted", "userId", rec.Owner)
	return rec, nil
}

// Get returns the job or a NotFound error.
func (s *Service) Get(id string) (*job.Record, error) {
	rec, ok := s.jobs.Get(id)
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return rec, nil
}

// List returns jobs matching opts, newest first.
func (s *Service) List(opts job.ListOptions) []*job.Record {
	return s.jobs.List(opts)
}

// Delete removes the job. Orchestration already running for it is not stopped.
func (s *Service) Delete(id string) error {
	if !s.jobs.Delete(id) {
		return apperrors.NotFound("job", id)
	}
	slog.Info("Job deleted", "jobId", id)
	return nil
}
