// Package scheduler feeds queued submissions to the sandbox with a fixed
// bound on how many grade at once. Admission is non-blocking so the HTTP
// layer can reject work instead of stalling on a full queue.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/securegrade/securegrade/internal/sandbox"
)

// ErrQueueFull signals that the submission queue is at capacity and the
// client should retry later.
var ErrQueueFull = errors.New("submission queue is full")

// Grader produces a report for one submission.
type Grader interface {
	Grade(ctx context.Context, sub sandbox.Submission, task sandbox.TaskSpec) (*sandbox.SubmissionReport, error)
}

// TaskSource loads the grading spec for a task.
type TaskSource interface {
	TaskSpec(ctx context.Context, taskID int64) (sandbox.TaskSpec, error)
}

// ResultSink records grading outcomes against the submission row.
type ResultSink interface {
	RecordResult(ctx context.Context, userID, taskID int64, report []byte, grade float32) error
	RecordFailure(ctx context.Context, userID, taskID int64, cause string) error
}

// Scheduler owns the submission queue. One dispatcher goroutine takes a
// worker permit, receives the oldest entry, and hands it to a detached
// worker, so entries start strictly in arrival order and at most `workers`
// grade concurrently.
type Scheduler struct {
	queue   chan sandbox.Submission
	slots   *semaphore.Weighted
	grader  Grader
	tasks   TaskSource
	results ResultSink
	log     hclog.Logger
	wg      sync.WaitGroup
}

func New(capacity, workers int, grader Grader, tasks TaskSource, results ResultSink, logger hclog.Logger) *Scheduler {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{
		queue:   make(chan sandbox.Submission, capacity),
		slots:   semaphore.NewWeighted(int64(workers)),
		grader:  grader,
		tasks:   tasks,
		results: results,
		log:     logger.Named("scheduler"),
	}
}

// TrySend enqueues a submission without blocking. The send doubles as the
// capacity reservation: either the entry is in the queue or the caller gets
// ErrQueueFull, never a partial admit.
func (s *Scheduler) TrySend(sub sandbox.Submission) error {
	select {
	case s.queue <- sub:
		return nil
	default:
		return ErrQueueFull
	}
}

// Backlog reports how many submissions are waiting for a worker.
func (s *Scheduler) Backlog() int {
	return len(s.queue)
}

// Run dispatches until ctx is canceled. A permit is taken before the queue
// is read so a dequeued entry always has a worker slot waiting for it.
// Entries already handed to a worker are never canceled; their results
// still land in the store during shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			s.slots.Release(1)
			return
		case sub := <-s.queue:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.slots.Release(1)
				s.grade(context.WithoutCancel(ctx), sub)
			}()
		}
	}
}

// Wait blocks until every in-flight worker has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) grade(ctx context.Context, sub sandbox.Submission) {
	log := s.log.With("user", sub.UserID, "task", sub.TaskID)

	task, err := s.tasks.TaskSpec(ctx, sub.TaskID)
	if err != nil {
		log.Error("cannot load task spec", "error", err)
		s.fail(ctx, sub, err)
		return
	}

	report, err := s.grader.Grade(ctx, sub, task)
	if err != nil {
		log.Warn("submission could not be graded", "error", err)
		s.fail(ctx, sub, err)
		return
	}

	raw, err := json.Marshal(report)
	if err != nil {
		s.fail(ctx, sub, err)
		return
	}
	if err := s.results.RecordResult(ctx, sub.UserID, sub.TaskID, raw, report.Score()); err != nil {
		log.Error("cannot record grade", "error", err)
		return
	}
	log.Info("graded submission", "score", report.Score(), "passes", report.Passes, "tests", len(report.Tests))
}

// fail marks the submission as terminally failed so the student sees an
// error instead of a submission stuck in progress.
func (s *Scheduler) fail(ctx context.Context, sub sandbox.Submission, cause error) {
	if err := s.results.RecordFailure(ctx, sub.UserID, sub.TaskID, cause.Error()); err != nil {
		s.log.Error("cannot record grading failure", "user", sub.UserID, "task", sub.TaskID, "error", err)
	}
}
