package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedQuerier replays statuses in order, repeating the last one.
type scriptedQuerier struct {
	err      error
	release  chan struct{}
	calls    []time.Time
	statuses []model.JobStatus
	mu       sync.Mutex
}

func (q *scriptedQuerier) Status(ctx context.Context, _ string) (model.JobStatus, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	q.mu.Lock()
	q.calls = append(q.calls, time.Now())
	n := len(q.calls)
	release := q.release
	q.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if q.err != nil {
		return "", q.err
	}
	idx := n - 1
	if idx >= len(q.statuses) {
		idx = len(q.statuses) - 1
	}
	return q.statuses[idx], nil
}

func (q *scriptedQuerier) callTimes() []time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Time(nil), q.calls...)
}

func TestPollUntil_ResolvesOnFirstMatch(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{
		model.StatusProcessing, model.StatusProcessing, model.StatusUploaded, model.StatusProcessing,
	}}
	p := New(q, WithInterval(10*time.Millisecond))

	status, err := p.PollUntil(context.Background(), "123", StatusIs(model.StatusUploaded))
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, status)
	assert.Len(t, q.callTimes(), 3)
}

func TestPollUntil_FirstQueryIsImmediate(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusCompleted}}
	p := New(q, WithInterval(time.Hour))

	start := time.Now()
	status, err := p.PollUntil(context.Background(), "123", Terminal())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollUntil_NeverFasterThanInterval(t *testing.T) {
	interval := 20 * time.Millisecond
	q := &scriptedQuerier{statuses: []model.JobStatus{
		model.StatusProcessing, model.StatusProcessing, model.StatusProcessing, model.StatusCompleted,
	}}
	p := New(q, WithInterval(interval))

	_, err := p.PollUntil(context.Background(), "123", StatusIn(model.StatusCompleted, model.StatusFailed))
	require.NoError(t, err)

	calls := q.callTimes()
	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval, "call %d came too early", i)
	}
}

func TestPollUntil_TransportErrorIsNotRetried(t *testing.T) {
	transportErr := &common.TransportError{Op: "poll status", StatusCode: 502}
	q := &scriptedQuerier{err: transportErr}
	p := New(q, WithInterval(time.Millisecond))

	_, err := p.PollUntil(context.Background(), "123", Terminal())
	require.Error(t, err)
	assert.True(t, common.IsTransport(err))
	assert.Len(t, q.callTimes(), 1)
}

func TestPollUntil_FailedIsAStatusNotAnError(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusFailed}}
	p := New(q, WithInterval(time.Millisecond))

	status, err := p.PollUntil(context.Background(), "123", StatusIn(model.StatusCompleted, model.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, status)
}

func TestPollUntil_UnexpectedTerminalStopsPolling(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusProcessing, model.StatusFailed}}
	p := New(q, WithInterval(time.Millisecond))

	status, err := p.PollUntil(context.Background(), "123", StatusIs(model.StatusUploaded))
	var unexpected *UnexpectedStatusError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, model.StatusFailed, unexpected.Status)
	assert.Equal(t, model.StatusFailed, status)
	assert.Len(t, q.callTimes(), 2)
}

func TestPollUntil_MaxWait(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusProcessing}}
	p := New(q, WithInterval(5*time.Millisecond), WithMaxWait(30*time.Millisecond))

	_, err := p.PollUntil(context.Background(), "123", Terminal())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStart_Validation(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusUploaded}}
	p := New(q)

	h := p.Start(context.Background(), "", Terminal())
	<-h.Done()
	_, err := h.Result()
	assert.True(t, common.IsValidation(err))
	assert.ErrorIs(t, err, common.ErrEmptyJobID)

	h = p.Start(context.Background(), "123", nil)
	<-h.Done()
	_, err = h.Result()
	assert.True(t, common.IsValidation(err))

	assert.Empty(t, q.callTimes())
}

func TestHandle_CancelStopsFurtherQueries(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusProcessing}}
	p := New(q, WithInterval(10*time.Millisecond))

	h := p.Start(context.Background(), "123", Terminal())
	require.Eventually(t, func() bool { return len(q.callTimes()) >= 2 }, time.Second, time.Millisecond)

	h.Cancel()
	<-h.stopped
	n := len(q.callTimes())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, q.callTimes(), n, "no queries after cancel")

	_, err := h.Result()
	assert.ErrorIs(t, err, ErrCanceled)

	// Idempotent.
	h.Cancel()
}

func TestHandle_CancelDiscardsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusCompleted}, release: release}
	p := New(q, WithInterval(time.Millisecond))

	h := p.Start(context.Background(), "123", Terminal())
	require.Eventually(t, func() bool { return len(q.callTimes()) == 1 }, time.Second, time.Millisecond)

	h.Cancel()
	close(release)
	<-h.stopped

	status, err := h.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, status, "the completed status arrived after cancel and must be dropped")
	assert.Empty(t, h.LastStatus())
}

func TestHandle_ParentContextCancel(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusProcessing}}
	p := New(q, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	h := p.Start(ctx, "123", Terminal())
	require.Eventually(t, func() bool { return h.Attempts() >= 1 }, time.Second, time.Millisecond)
	cancel()

	<-h.Done()
	<-h.stopped
	_, err := h.Result()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandle_WaitContextDoesNotCancelPoll(t *testing.T) {
	q := &scriptedQuerier{statuses: []model.JobStatus{model.StatusProcessing, model.StatusCompleted}}
	p := New(q, WithInterval(20*time.Millisecond))

	h := p.Start(context.Background(), "123", Terminal())
	defer h.Cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, err := h.Wait(waitCtx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	status, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestNew_Defaults(t *testing.T) {
	p := New(&scriptedQuerier{}, WithInterval(0), WithMaxWait(-1))
	assert.Equal(t, DefaultInterval, p.Interval())
	assert.Equal(t, DefaultMaxWait, p.maxWait)
}
