package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/queue"
	"github.com/maltedev/prothunter/internal/scraper"
)

var (
	ErrRunNotFound = errors.New("run not found")
	// ErrRunInProgress is returned for scheduled submissions while another run is queued or running.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrRunCancelled marks runs still queued when the worker shuts down.
	ErrRunCancelled = errors.New("run cancelled before start")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const defaultHistoryLimit = 50

// Executor performs one batch run over the targets.
type Executor interface {
	Execute(ctx context.Context, targets []models.TargetSpec) (scraper.Report, error)
}

// RecordStore receives the records of a finished run.
type RecordStore interface {
	Save(records []models.OutputRecord) error
}

// RunRecorder persists a run's records with their events.
type RunRecorder interface {
	RecordRun(ctx context.Context, runID uuid.UUID, records []models.OutputRecord) error
}

// Run is the status of one batch run
type Run struct {
	ID          string            `json:"id"`
	Trigger     queue.Trigger     `json:"trigger"`
	Status      Status            `json:"status"`
	Targets     int               `json:"targets"`
	Succeeded   int               `json:"succeeded"`
	Failures    []scraper.Failure `json:"failures,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type Options struct {
	// WriteEmpty saves an empty record set when a run produced nothing.
	WriteEmpty bool
	// Recorder is optional; nil disables price history and events.
	Recorder     RunRecorder
	HistoryLimit int
}

// Manager queues batch runs and executes them one at a time.
type Manager struct {
	runner   Executor
	targets  []models.TargetSpec
	store    RecordStore
	recorder RunRecorder
	queue    queue.Queue
	opts     Options
	logger   *slog.Logger

	// exec serializes runs so the browser is never shared.
	exec  sync.Mutex
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string

	cron *cron.Cron
	now  func() time.Time
}

func NewManager(runner Executor, targets []models.TargetSpec, store RecordStore, q queue.Queue, opts Options, logger *slog.Logger) *Manager {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}

	return &Manager{
		runner:   runner,
		targets:  targets,
		store:    store,
		recorder: opts.Recorder,
		queue:    q,
		opts:     opts,
		logger:   logger.With("component", "job_manager"),
		runs:     make(map[string]*Run),
		cron:     cron.New(cron.WithSeconds()),
		now:      time.Now,
	}
}

// Submit queues a run and returns its initial status.
func (m *Manager) Submit(trigger queue.Trigger) (Run, error) {
	if trigger == queue.TriggerSchedule && m.busy() {
		return Run{}, ErrRunInProgress
	}

	run := m.register(trigger)

	task := &queue.Task{ID: run.ID, Trigger: trigger, CreatedAt: run.CreatedAt}
	if trigger == queue.TriggerManual {
		task.Priority = 1
	}
	if err := m.queue.Push(task); err != nil {
		m.finish(run.ID, nil, fmt.Errorf("failed to queue run: %w", err))
		return Run{}, err
	}

	m.logger.Info("run queued", "run_id", run.ID, "trigger", trigger)
	return m.snapshot(run.ID), nil
}

// RunNow executes a run synchronously and returns its final status.
func (m *Manager) RunNow(ctx context.Context, trigger queue.Trigger) Run {
	run := m.register(trigger)
	m.execute(ctx, run.ID)
	return m.snapshot(run.ID)
}

// Get returns a copy of the run status.
func (m *Manager) Get(id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return copyRun(run), nil
}

// List returns the retained runs, newest first.
func (m *Manager) List() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]Run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		runs = append(runs, copyRun(m.runs[m.order[i]]))
	}
	return runs
}

// StartWorker executes queued runs until ctx is done or the queue is closed.
// It returns only after the run in progress has been persisted. Runs popped
// after ctx is done are marked failed without being executed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Error("failed to pop task", "error", err)
			}
			m.logger.Info("job worker stopping")
			return
		}

		if ctx.Err() != nil {
			m.finish(task.ID, nil, ErrRunCancelled)
			m.logger.Info("queued run dropped", "run_id", task.ID, "trigger", task.Trigger)
			continue
		}

		m.execute(ctx, task.ID)
	}
}

// Schedule submits a run on every tick of the cron spec (seconds field first).
func (m *Manager) Schedule(spec string) error {
	_, err := m.cron.AddFunc(spec, func() {
		if _, err := m.Submit(queue.TriggerSchedule); err != nil {
			m.logger.Warn("scheduled run skipped", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	m.cron.Start()
	m.logger.Info("runs scheduled", "cron", spec)
	return nil
}

func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Manager) execute(ctx context.Context, id string) {
	m.exec.Lock()
	defer m.exec.Unlock()

	m.setRunning(id)
	logger := m.logger.With("run_id", id)
	logger.Info("run started", "targets", len(m.targets))

	report, err := m.runner.Execute(ctx, m.targets)
	if err == nil || !errors.Is(err, scraper.ErrDriverInit) {
		if sinkErr := m.persist(ctx, id, report.Records); sinkErr != nil {
			err = errors.Join(err, sinkErr)
		}
	}

	m.finish(id, &report, err)

	if err != nil {
		logger.Error("run failed", "error", err)
		return
	}
	logger.Info("run completed",
		"succeeded", len(report.Records),
		"failed", len(report.Failures))
}

func (m *Manager) persist(ctx context.Context, id string, records []models.OutputRecord) error {
	if len(records) == 0 && !m.opts.WriteEmpty {
		m.logger.Warn("no records produced, output left unchanged", "run_id", id)
		return nil
	}

	if err := m.store.Save(records); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}

	if m.recorder == nil || len(records) == 0 {
		return nil
	}

	runID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}
	// Shutdown must not lose a finished run.
	return m.recorder.RecordRun(context.WithoutCancel(ctx), runID, records)
}

func (m *Manager) busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.runs {
		if run.Status == StatusPending || run.Status == StatusRunning {
			return true
		}
	}
	return false
}

func (m *Manager) register(trigger queue.Trigger) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    StatusPending,
		Targets:   len(m.targets),
		CreatedAt: m.now(),
	}
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)

	for len(m.order) > m.opts.HistoryLimit {
		oldest := m.order[0]
		if s := m.runs[oldest].Status; s == StatusPending || s == StatusRunning {
			break
		}
		delete(m.runs, oldest)
		m.order = m.order[1:]
	}

	return run
}

func (m *Manager) setRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[id]; ok {
		now := m.now()
		run.Status = StatusRunning
		run.StartedAt = &now
	}
}

func (m *Manager) finish(id string, report *scraper.Report, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return
	}

	now := m.now()
	run.CompletedAt = &now
	if report != nil {
		run.Succeeded = len(report.Records)
		run.Failures = report.Failures
	}

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = StatusCompleted
}

func (m *Manager) snapshot(id string) Run {
	run, _ := m.Get(id)
	return run
}

func copyRun(r *Run) Run {
	c := *r
	c.Failures = append([]scraper.Failure(nil), r.Failures...)
	return c
}
