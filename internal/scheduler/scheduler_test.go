package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securegrade/securegrade/internal/sandbox"
)

type staticSource struct {
	spec sandbox.TaskSpec
	err  error
}

func (s staticSource) TaskSpec(context.Context, int64) (sandbox.TaskSpec, error) {
	return s.spec, s.err
}

type recordedResult struct {
	userID, taskID int64
	report         []byte
	grade          float32
}

type memorySink struct {
	mu       sync.Mutex
	results  []recordedResult
	failures map[int64]string
}

func newMemorySink() *memorySink {
	return &memorySink{failures: map[int64]string{}}
}

func (m *memorySink) RecordResult(_ context.Context, userID, taskID int64, report []byte, grade float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, recordedResult{userID, taskID, report, grade})
	return nil
}

func (m *memorySink) RecordFailure(_ context.Context, _, taskID int64, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[taskID] = cause
	return nil
}

func (m *memorySink) resultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// gateGrader blocks every Grade call until release is closed, recording
// call order and the high-water mark of concurrent calls.
type gateGrader struct {
	mu      sync.Mutex
	release chan struct{}
	order   []int64
	err     error

	running int32
	peak    int32
}

func (g *gateGrader) Grade(_ context.Context, sub sandbox.Submission, _ sandbox.TaskSpec) (*sandbox.SubmissionReport, error) {
	n := atomic.AddInt32(&g.running, 1)
	for {
		p := atomic.LoadInt32(&g.peak)
		if n <= p || atomic.CompareAndSwapInt32(&g.peak, p, n) {
			break
		}
	}
	g.mu.Lock()
	g.order = append(g.order, sub.TaskID)
	g.mu.Unlock()

	if g.release != nil {
		<-g.release
	}
	atomic.AddInt32(&g.running, -1)

	if g.err != nil {
		return nil, g.err
	}
	report := &sandbox.SubmissionReport{}
	report.Pass("t", sub.WasLate, nil)
	return report, nil
}

func startScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Wait()
	})
	return cancel
}

func TestConcurrencyBound(t *testing.T) {
	grader := &gateGrader{release: make(chan struct{})}
	s := New(16, 2, grader, staticSource{}, newMemorySink(), nil)
	startScheduler(t, s)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.TrySend(sandbox.Submission{TaskID: i}))
	}

	// Two workers start immediately, the rest must wait for permits.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&grader.running) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, s.Backlog())

	close(grader.release)
	require.Eventually(t, func() bool {
		grader.mu.Lock()
		defer grader.mu.Unlock()
		return len(grader.order) == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&grader.peak), int32(2))
}

func TestStartsInArrivalOrder(t *testing.T) {
	grader := &gateGrader{}
	s := New(16, 1, grader, staticSource{}, newMemorySink(), nil)

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.TrySend(sandbox.Submission{TaskID: i}))
	}
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		grader.mu.Lock()
		defer grader.mu.Unlock()
		return len(grader.order) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4}, grader.order)
}

func TestTrySendFullQueue(t *testing.T) {
	s := New(1, 1, &gateGrader{}, staticSource{}, newMemorySink(), nil)

	require.NoError(t, s.TrySend(sandbox.Submission{TaskID: 1}))
	err := s.TrySend(sandbox.Submission{TaskID: 2})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestResultRecorded(t *testing.T) {
	sink := newMemorySink()
	s := New(4, 1, &gateGrader{}, staticSource{}, sink, nil)
	startScheduler(t, s)

	require.NoError(t, s.TrySend(sandbox.Submission{UserID: 9, TaskID: 4}))
	require.Eventually(t, func() bool { return sink.resultCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	got := sink.results[0]
	assert.Equal(t, int64(9), got.userID)
	assert.Equal(t, int64(4), got.taskID)
	assert.InDelta(t, 1.0, got.grade, 1e-6)

	var report sandbox.SubmissionReport
	require.NoError(t, json.Unmarshal(got.report, &report))
	assert.Equal(t, 1, report.Passes)
}

func TestGraderErrorRecordsFailure(t *testing.T) {
	sink := newMemorySink()
	grader := &gateGrader{err: errors.New("image build failed")}
	s := New(4, 1, grader, staticSource{}, sink, nil)
	startScheduler(t, s)

	require.NoError(t, s.TrySend(sandbox.Submission{TaskID: 7}))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.failures[7] != ""
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "image build failed", sink.failures[7])

	// The permit must come back after a failure or the queue wedges.
	require.NoError(t, s.TrySend(sandbox.Submission{TaskID: 8}))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.failures[8] != ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTaskSourceErrorRecordsFailure(t *testing.T) {
	sink := newMemorySink()
	s := New(4, 1, &gateGrader{}, staticSource{err: errors.New("task vanished")}, sink, nil)
	startScheduler(t, s)

	require.NoError(t, s.TrySend(sandbox.Submission{TaskID: 3}))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.failures[3] == "task vanished"
	}, 2*time.Second, 5*time.Millisecond)
}
