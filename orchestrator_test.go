package untestables

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"untestables/model"
	"untestables/test_utils"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetProcessedStarCounts(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	var stars []int
	if args.Get(0) != nil {
		stars = args.Get(0).([]int)
	}
	return stars, args.Error(1)
}

type mockQuota struct {
	mock.Mock
}

func (m *mockQuota) GetQuota(ctx context.Context, bucket string) (model.Quota, error) {
	args := m.Called(ctx, bucket)
	return args.Get(0).(model.Quota), args.Error(1)
}

// fakeInvoker records every invoked unit and replays canned results.
type fakeInvoker struct {
	mu      sync.Mutex
	units   []model.WorkUnit
	results []model.WorkResult
}

func (f *fakeInvoker) Invoke(_ context.Context, unit model.WorkUnit) model.WorkResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = append(f.units, unit)
	if len(f.results) == 0 {
		return model.WorkResult{ExitCode: 0, Outcome: model.OutcomeSuccess}
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result
}

func (f *fakeInvoker) invoked() []model.WorkUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.WorkUnit(nil), f.units...)
}

func openQuota() model.Quota {
	return model.Quota{Remaining: 30, Limit: 30, ResetAt: time.Now().Add(time.Minute)}
}

func fastOptions(extra ...Option) []Option {
	options := []Option{
		WithBound(100, 500),
		WithChunkSize(50),
		WithTotalDuration(80 * time.Millisecond),
		WithCycleInterval(5 * time.Millisecond),
		WithIdleInterval(10 * time.Millisecond),
	}
	return append(options, extra...)
}

func TestOrchestrator_ProcessesLowestGapFirst(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	store.On("GetProcessedStarCounts", mock.Anything).Return([]int{100, 101, 102}, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	units := invoker.invoked()
	require.NotEmpty(t, units)
	assert.Equal(t, model.Gap{Start: 103, End: 152}, units[0].Gap)
}

func TestOrchestrator_NoWorkSleepsIdle(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	// Full coverage of a single-value bound: nothing to do.
	store.On("GetProcessedStarCounts", mock.Anything).Return([]int{100}, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker,
		fastOptions(WithBound(100, 100))...)
	require.NoError(t, o.Run(context.Background()))

	assert.Empty(t, invoker.invoked(), "no worker must run when no gap exists")
}

func TestOrchestrator_ExhaustedQuotaBlocksWithoutWork(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	resetAt := time.Now().Add(10 * time.Hour)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).
		Return(model.Quota{Remaining: 0, Limit: 30, ResetAt: resetAt}, nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	assert.Empty(t, invoker.invoked())
	assert.Equal(t, resetAt, o.RateLimitedUntil())
	store.AssertNotCalled(t, "GetProcessedStarCounts", mock.Anything)
}

func TestOrchestrator_RateLimitedWorkerBlocksFurtherCycles(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	resetAt := time.Now().Add(10 * time.Hour)
	invoker := &fakeInvoker{results: []model.WorkResult{{
		ExitCode: model.ExitCodeRateLimited,
		Outcome:  model.OutcomeRateLimited,
		ResetAt:  resetAt,
	}}}

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	assert.Len(t, invoker.invoked(), 1, "no further work until the quota resets")
	assert.Equal(t, resetAt, o.RateLimitedUntil())
	quota.AssertNumberOfCalls(t, "GetQuota", 1)
}

func TestOrchestrator_ReportsEveryCycleOutcome(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}
	logger := test_utils.NewMockLogger()

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions(WithLogger(logger))...)
	require.NoError(t, o.Run(context.Background()))

	require.NotEmpty(t, invoker.invoked())
	assert.True(t, logger.Contains("debug", "outcome="+string(model.OutcomeSuccess)),
		"each finished cycle must report its outcome")
}

func TestOrchestrator_WorkerFailureIsAbsorbed(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{results: []model.WorkResult{{
		ExitCode: 1,
		Stderr:   "scanner blew up",
		Outcome:  model.OutcomeFailed,
	}}}

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	// The loop keeps cycling after a failure; the same range stays selected
	// because the processed-set never changes.
	units := invoker.invoked()
	assert.GreaterOrEqual(t, len(units), 2)
	for _, unit := range units {
		assert.Equal(t, model.Gap{Start: 100, End: 149}, unit.Gap)
	}
}

func TestOrchestrator_SpawnErrorIsAbsorbed(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{results: []model.WorkResult{{
		ExitCode: model.ExitCodeSpawnError,
		Stderr:   "command not found",
		Outcome:  model.OutcomeSpawnError,
	}}}

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	assert.GreaterOrEqual(t, len(invoker.invoked()), 2)
}

func TestOrchestrator_QuotaCheckFailureBacksOff(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).
		Return(model.Quota{}, errors.New("github unreachable"))

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	assert.Empty(t, invoker.invoked(), "quota-unknown cycles must not attempt work")
}

func TestOrchestrator_StoreErrorIsAbsorbed(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	store.On("GetProcessedStarCounts", mock.Anything).
		Return(nil, errors.New("database down"))
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	assert.Empty(t, invoker.invoked())
	quota.AssertExpectations(t)
}

func TestOrchestrator_ExternalCancellation(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	// No total duration: the loop would run forever without cancellation.
	o := NewOrchestrator(store, quota, invoker,
		WithBound(100, 500),
		WithChunkSize(50),
		WithCycleInterval(5*time.Millisecond),
		WithIdleInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestOrchestrator_DeadlinePassedToWorker(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil)
	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	start := time.Now()
	require.NoError(t, o.Run(context.Background()))

	units := invoker.invoked()
	require.NotEmpty(t, units)
	assert.False(t, units[0].Deadline.IsZero())
	assert.WithinDuration(t, start.Add(80*time.Millisecond), units[0].Deadline, 50*time.Millisecond)
}

func TestOrchestrator_FreshProcessedSetEachCycle(t *testing.T) {
	store := new(mockStore)
	quota := new(mockQuota)
	invoker := &fakeInvoker{}

	quota.On("GetQuota", mock.Anything, model.QuotaBucketSearch).Return(openQuota(), nil)

	// First cycle sees nothing processed, later cycles see the first chunk
	// recorded; the selection must move on.
	store.On("GetProcessedStarCounts", mock.Anything).Return(nil, nil).Once()
	var recorded []int
	for star := 100; star <= 149; star++ {
		recorded = append(recorded, star)
	}
	store.On("GetProcessedStarCounts", mock.Anything).Return(recorded, nil)

	o := NewOrchestrator(store, quota, invoker, fastOptions()...)
	require.NoError(t, o.Run(context.Background()))

	units := invoker.invoked()
	require.GreaterOrEqual(t, len(units), 2)
	assert.Equal(t, model.Gap{Start: 100, End: 149}, units[0].Gap)
	assert.Equal(t, model.Gap{Start: 150, End: 199}, units[1].Gap)
}
