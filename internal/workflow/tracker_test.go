package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	"github.com/dvernon0786/Infin8Content-sub000/internal/storage/memory"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTracker(t *testing.T) (*Tracker, *progress.Recorder) {
	t.Helper()
	rec := &progress.Recorder{}
	clock := &stepClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	return New(memory.NewWorkflowStore(), clock, rec, nil), rec
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t)
	ctx := context.Background()

	first, err := tr.Start(ctx, "wf-1", "org-1")
	require.NoError(t, err)
	require.Equal(t, keyword.StateSeedExtraction, first.State)

	again, err := tr.Start(ctx, "wf-1", "org-1")
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, again.CreatedAt)

	_, err = tr.Start(ctx, "wf-1", "org-2")
	require.Error(t, err)

	_, err = tr.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForwardTransitionsOnly(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)

	_, err = tr.UpdateWorkflowStatus(ctx, "wf", "org", keyword.StateKeywordFiltering, "", 0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	for _, step := range keyword.Steps {
		status, err := tr.UpdateWorkflowStatus(ctx, "wf", "org", step.Next(), "", 0)
		require.NoError(t, err)
		require.Equal(t, step.Next(), status.State)
		require.NotNil(t, status.Step(step).CompletedAt)
	}

	_, err = tr.UpdateWorkflowStatus(ctx, "wf", "org", keyword.StateFailed, "late", 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = tr.UpdateWorkflowStatus(ctx, "wf", "org", keyword.StateSeedExtraction, "", 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompletionRetryMetadata(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)

	require.NoError(t, tr.UpdateWorkflowRetryMetadata(ctx, "wf", "org", keyword.StateSeedExtraction, 2, "status 503"))
	mid, err := tr.Get(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, 2, mid.Step(keyword.StateSeedExtraction).RetryCount)
	require.Equal(t, "status 503", mid.Step(keyword.StateSeedExtraction).LastErrorMessage)
	require.Nil(t, mid.Step(keyword.StateSeedExtraction).CompletedAt)

	status, err := tr.CompleteStep(ctx, "wf", "org", keyword.StateSeedExtraction, 2)
	require.NoError(t, err)
	p := status.Step(keyword.StateSeedExtraction)
	require.Equal(t, 2, p.RetryCount)
	require.Empty(t, p.LastErrorMessage)
	require.NotNil(t, p.CompletedAt)

	require.NoError(t, tr.UpdateWorkflowRetryMetadata(ctx, "wf", "org", keyword.StateLongtailExpansion, 1, "timeout"))
	status, err = tr.CompleteStep(ctx, "wf", "org", keyword.StateLongtailExpansion, 0)
	require.NoError(t, err)
	p = status.Step(keyword.StateLongtailExpansion)
	require.Zero(t, p.RetryCount)
	require.Empty(t, p.LastErrorMessage)
	require.NotNil(t, p.CompletedAt)

	err = tr.UpdateWorkflowRetryMetadata(ctx, "wf", "org", keyword.StateSeedExtraction, 1, "stale")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFailAndResume(t *testing.T) {
	t.Parallel()

	tr, rec := newTracker(t)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)
	_, err = tr.CompleteStep(ctx, "wf", "org", keyword.StateSeedExtraction, 0)
	require.NoError(t, err)

	run, err := tr.BeginStep(ctx, "wf", "org", keyword.StateLongtailExpansion)
	require.NoError(t, err)
	cause := errors.New("all sources down")
	err = run.Fail(ctx, cause)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, keyword.StateLongtailExpansion, stepErr.Step)
	require.ErrorIs(t, err, cause)

	status, err := tr.Get(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, keyword.StateFailed, status.State)
	require.Equal(t, keyword.StateLongtailExpansion, status.FailedStep)
	require.Equal(t, keyword.StateLongtailExpansion, status.ResumeStep())
	require.Equal(t, "all sources down", status.Step(keyword.StateLongtailExpansion).LastErrorMessage)

	failed := rec.OfKind(progress.KindStepFailed)
	require.Len(t, failed, 1)
	require.Equal(t, 1, failed[0].TotalAttempts)
	require.Equal(t, "all sources down", failed[0].ErrorMessage)

	_, err = tr.BeginStep(ctx, "wf", "org", keyword.StateKeywordFiltering)
	require.ErrorIs(t, err, ErrInvalidTransition)

	run, err = tr.BeginStep(ctx, "wf", "org", keyword.StateLongtailExpansion)
	require.NoError(t, err)
	status, err = run.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, keyword.StateKeywordFiltering, status.State)
	require.Empty(t, status.FailedStep)
	require.Len(t, rec.OfKind(progress.KindStepCompleted), 2)
}

func TestRetryHookPersistsAndEmits(t *testing.T) {
	t.Parallel()

	tr, rec := newTracker(t)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)

	run, err := tr.BeginStep(ctx, "wf", "org", keyword.StateSeedExtraction)
	require.NoError(t, err)

	var observed []int
	calls := 0
	policy := retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, BackoffMultiplier: 2, MaxDelay: 30 * time.Second}
	_, err = retry.Do(ctx, policy, "ranked keywords", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("provider status 503")
		}
		return 1, nil
	},
		run.RetryHook(),
		retry.WithOnRetry(func(ctx context.Context, _ retry.Attempt) {
			status, err := tr.Get(ctx, "wf")
			require.NoError(t, err)
			observed = append(observed, status.Step(keyword.StateSeedExtraction).RetryCount)
		}),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, observed)
	require.Equal(t, 2, run.Retries())

	retried := rec.OfKind(progress.KindStepRetried)
	require.Len(t, retried, 2)
	require.Equal(t, 1, retried[0].AttemptNumber)
	require.Equal(t, string(retry.ErrorServer), retried[0].ErrorType)
	require.Equal(t, time.Second, retried[0].Delay)
	require.Equal(t, 2*time.Second, retried[1].Delay)
	for _, evt := range retried {
		require.NoError(t, evt.Validate())
	}

	status, err := run.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.Step(keyword.StateSeedExtraction).RetryCount)
	require.Equal(t, 3, rec.OfKind(progress.KindStepCompleted)[0].TotalAttempts)
}

// countingStore records the seed step's retry count on every save.
type countingStore struct {
	*memory.WorkflowStore
	mu     sync.Mutex
	counts []int
}

func (s *countingStore) SaveWorkflowStatus(ctx context.Context, status keyword.WorkflowStatus) error {
	s.mu.Lock()
	s.counts = append(s.counts, status.Step(keyword.StateSeedExtraction).RetryCount)
	s.mu.Unlock()
	return s.WorkflowStore.SaveWorkflowStatus(ctx, status)
}

func TestConcurrentRetriesPersistIncreasingCounts(t *testing.T) {
	t.Parallel()

	repo := &countingStore{WorkflowStore: memory.NewWorkflowStore()}
	clock := &stepClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	tr := New(repo, clock, nil, nil)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)
	run, err := tr.BeginStep(ctx, "wf", "org", keyword.StateSeedExtraction)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.counts = nil
	repo.mu.Unlock()

	const branches = 8
	policy := retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second}
	var wg sync.WaitGroup
	for i := 0; i < branches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			failed := false
			_, err := retry.Do(ctx, policy, "source", func(context.Context) (int, error) {
				if !failed {
					failed = true
					return 0, errors.New("status 503")
				}
				return 1, nil
			},
				run.RetryHook(),
				retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
			)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, branches, run.Retries())
	repo.mu.Lock()
	counts := append([]int(nil), repo.counts...)
	repo.mu.Unlock()
	require.Len(t, counts, branches)
	for i, c := range counts {
		require.Equal(t, i+1, c)
	}
	status, err := tr.Get(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, branches, status.Step(keyword.StateSeedExtraction).RetryCount)
}

func TestFailCountsRetryAttempts(t *testing.T) {
	t.Parallel()

	tr, rec := newTracker(t)
	ctx := context.Background()
	_, err := tr.Start(ctx, "wf", "org")
	require.NoError(t, err)
	run, err := tr.BeginStep(ctx, "wf", "org", keyword.StateSeedExtraction)
	require.NoError(t, err)

	cause := &retry.Error{Name: "ranked keywords", Attempts: 3, Type: retry.ErrorServer, Err: errors.New("status 500")}
	err = run.Fail(ctx, cause)
	require.Error(t, err)
	require.Equal(t, 3, rec.OfKind(progress.KindStepFailed)[0].TotalAttempts)
}
