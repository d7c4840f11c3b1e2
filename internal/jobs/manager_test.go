package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/prothunter/internal/extract"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/queue"
	"github.com/maltedev/prothunter/internal/scraper"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, targets []models.TargetSpec) (scraper.Report, error) {
	args := m.Called(ctx, targets)
	return args.Get(0).(scraper.Report), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordRun(ctx context.Context, runID uuid.UUID, records []models.OutputRecord) error {
	args := m.Called(ctx, runID, records)
	return args.Error(0)
}

type memoryStore struct {
	mu    sync.Mutex
	saves [][]models.OutputRecord
	err   error
}

func (s *memoryStore) Save(records []models.OutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, records)
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTargets() []models.TargetSpec {
	return []models.TargetSpec{
		{Brand: "HSN", URL: "https://www.hsnstore.com/evowhey", FixedWeight: 2, DefaultPurity: 78},
		{Brand: "Prozis", URL: "https://www.prozis.com/real-whey", FixedWeight: 1, DefaultPurity: 80},
	}
}

func successReport() scraper.Report {
	return scraper.Report{
		Records: []models.OutputRecord{{ID: "hsn", Brand: "HSN", Price: 34.99}},
		Failures: []scraper.Failure{
			{ID: "prozis", Brand: "Prozis", Reason: extract.ReasonTargetExhausted, Attempts: 3},
		},
	}
}

func TestRunNow(t *testing.T) {
	ctx := context.Background()
	targets := testTargets()
	report := successReport()

	executor := new(MockExecutor)
	executor.On("Execute", ctx, targets).Return(report, nil)

	recorder := new(MockRecorder)
	recorder.On("RecordRun", mock.Anything, mock.AnythingOfType("uuid.UUID"), report.Records).Return(nil)

	store := &memoryStore{}
	m := NewManager(executor, targets, store, queue.NewInMemoryQueue(), Options{Recorder: recorder}, testLogger())

	run := m.RunNow(ctx, queue.TriggerStartup)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, queue.TriggerStartup, run.Trigger)
	assert.Equal(t, 2, run.Targets)
	assert.Equal(t, 1, run.Succeeded)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "prozis", run.Failures[0].ID)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.Error)

	require.Equal(t, 1, store.count())
	assert.Equal(t, report.Records, store.saves[0])

	executor.AssertExpectations(t)
	recorder.AssertExpectations(t)
	recordedID := recorder.Calls[0].Arguments.Get(1).(uuid.UUID)
	assert.Equal(t, run.ID, recordedID.String())
}

func TestRunNowWithoutRecords(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		writeEmpty bool
		wantSaves  int
	}{
		{"output left unchanged", false, 0},
		{"empty array written", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := new(MockExecutor)
			executor.On("Execute", ctx, mock.Anything).Return(scraper.Report{Records: []models.OutputRecord{}}, nil)
			recorder := new(MockRecorder)
			store := &memoryStore{}

			m := NewManager(executor, testTargets(), store, queue.NewInMemoryQueue(),
				Options{WriteEmpty: tt.writeEmpty, Recorder: recorder}, testLogger())

			run := m.RunNow(ctx, queue.TriggerManual)

			assert.Equal(t, StatusCompleted, run.Status)
			assert.Equal(t, tt.wantSaves, store.count())
			recorder.AssertNotCalled(t, "RecordRun", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRunNowDriverInitFailure(t *testing.T) {
	ctx := context.Background()
	executor := new(MockExecutor)
	executor.On("Execute", ctx, mock.Anything).
		Return(scraper.Report{}, fmt.Errorf("%w: browser not installed", scraper.ErrDriverInit))

	store := &memoryStore{}
	m := NewManager(executor, testTargets(), store, queue.NewInMemoryQueue(), Options{WriteEmpty: true}, testLogger())

	run := m.RunNow(ctx, queue.TriggerManual)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "driver-init-failure")
	assert.Zero(t, store.count())
}

func TestRunNowSinkFailures(t *testing.T) {
	ctx := context.Background()
	report := successReport()

	t.Run("store", func(t *testing.T) {
		executor := new(MockExecutor)
		executor.On("Execute", ctx, mock.Anything).Return(report, nil)
		store := &memoryStore{err: errors.New("disk full")}

		m := NewManager(executor, testTargets(), store, queue.NewInMemoryQueue(), Options{}, testLogger())
		run := m.RunNow(ctx, queue.TriggerManual)

		assert.Equal(t, StatusFailed, run.Status)
		assert.Contains(t, run.Error, "disk full")
	})

	t.Run("recorder", func(t *testing.T) {
		executor := new(MockExecutor)
		executor.On("Execute", ctx, mock.Anything).Return(report, nil)
		recorder := new(MockRecorder)
		recorder.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		store := &memoryStore{}

		m := NewManager(executor, testTargets(), store, queue.NewInMemoryQueue(), Options{Recorder: recorder}, testLogger())
		run := m.RunNow(ctx, queue.TriggerManual)

		assert.Equal(t, StatusFailed, run.Status)
		assert.Contains(t, run.Error, "connection refused")
		assert.Equal(t, 1, store.count(), "the JSON file is written before the database")
	})
}

func TestRunNowCancelledKeepsPartialRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := successReport()
	executor := new(MockExecutor)
	executor.On("Execute", ctx, mock.Anything).Return(report, context.Canceled)
	store := &memoryStore{}

	m := NewManager(executor, testTargets(), store, queue.NewInMemoryQueue(), Options{}, testLogger())
	run := m.RunNow(ctx, queue.TriggerManual)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 1, store.count())
}

func TestSubmitAndWorker(t *testing.T) {
	executor := new(MockExecutor)
	executor.On("Execute", mock.Anything, mock.Anything).Return(successReport(), nil)
	store := &memoryStore{}
	q := queue.NewInMemoryQueue()

	m := NewManager(executor, testTargets(), store, q, Options{}, testLogger())

	run, err := m.Submit(queue.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)
	assert.Equal(t, 1, q.Size())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := m.Get(run.ID)
		return err == nil && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.count())

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestWorkerFinishesRunBeforeReturning(t *testing.T) {
	started := make(chan struct{})
	executor := new(MockExecutor)
	executor.On("Execute", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(successReport(), context.Canceled)

	recorder := new(MockRecorder)
	recorder.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store := &memoryStore{}
	q := queue.NewInMemoryQueue()
	m := NewManager(executor, testTargets(), store, q, Options{Recorder: recorder}, testLogger())

	run, err := m.Submit(queue.TriggerManual)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx)
		close(done)
	}()

	<-started
	cancel()
	require.NoError(t, q.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	assert.Equal(t, 1, store.count(), "partial records are saved before the worker returns")
	recorder.AssertExpectations(t)
	got, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestWorkerDropsRunsQueuedAfterCancel(t *testing.T) {
	executor := new(MockExecutor)
	q := queue.NewInMemoryQueue()
	m := NewManager(executor, testTargets(), &memoryStore{}, q, Options{}, testLogger())

	first, err := m.Submit(queue.TriggerManual)
	require.NoError(t, err)
	second, err := m.Submit(queue.TriggerStartup)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Close())

	m.StartWorker(ctx)

	executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	for _, id := range []string{first.ID, second.ID} {
		got, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ErrRunCancelled.Error(), got.Error)
	}
	assert.Equal(t, 0, q.Size())
}

func TestScheduledSubmitSkippedWhileBusy(t *testing.T) {
	m := NewManager(new(MockExecutor), testTargets(), &memoryStore{}, queue.NewInMemoryQueue(), Options{}, testLogger())

	_, err := m.Submit(queue.TriggerSchedule)
	require.NoError(t, err)

	_, err = m.Submit(queue.TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = m.Submit(queue.TriggerManual)
	assert.NoError(t, err, "manual runs are always queued")
}

func TestSubmitClosedQueue(t *testing.T) {
	q := queue.NewInMemoryQueue()
	require.NoError(t, q.Close())
	m := NewManager(new(MockExecutor), testTargets(), &memoryStore{}, q, Options{}, testLogger())

	_, err := m.Submit(queue.TriggerManual)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)

	runs := m.List()
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
}

func TestGetAndList(t *testing.T) {
	executor := new(MockExecutor)
	executor.On("Execute", mock.Anything, mock.Anything).Return(scraper.Report{}, nil)
	m := NewManager(executor, testTargets(), &memoryStore{}, queue.NewInMemoryQueue(), Options{HistoryLimit: 2}, testLogger())

	first := m.RunNow(context.Background(), queue.TriggerManual)
	second := m.RunNow(context.Background(), queue.TriggerManual)
	third := m.RunNow(context.Background(), queue.TriggerManual)

	_, err := m.Get(first.ID)
	assert.ErrorIs(t, err, ErrRunNotFound, "oldest run is pruned")

	got, err := m.Get(third.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, got.ID)

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, third.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
}

func TestSchedule(t *testing.T) {
	m := NewManager(new(MockExecutor), testTargets(), &memoryStore{}, queue.NewInMemoryQueue(), Options{}, testLogger())
	defer m.Stop()

	assert.NoError(t, m.Schedule("0 0 */6 * * *"))

	err := m.Schedule("every six hours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
