package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/extract"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/ratelimit"
)

// ErrDriverInit means the browser session could not be started. Nothing was scraped.
var ErrDriverInit = errors.New("driver-init-failure")

// Session is a started browser. Close is called exactly once per run.
type Session interface {
	NewPage() (browser.Page, error)
	Close() error
}

type Launcher func(ctx context.Context) (Session, error)

type TargetProcessor interface {
	Process(ctx context.Context, page browser.Page, target models.TargetSpec) Result
}

// Failure describes a target that produced no record.
type Failure struct {
	ID       string         `json:"id"`
	Brand    string         `json:"brand"`
	Reason   extract.Reason `json:"reason"`
	Attempts int            `json:"attempts"`
	LastRaw  string         `json:"last_raw,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type Report struct {
	Records    []models.OutputRecord `json:"records"`
	Failures   []Failure             `json:"failures"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

type Runner struct {
	launch    Launcher
	processor TargetProcessor
	pacer     ratelimit.RateLimiter
	now       func() time.Time
	logger    *slog.Logger
}

type RunnerOption func(*Runner)

// WithPacer spaces consecutive targets.
func WithPacer(p ratelimit.RateLimiter) RunnerOption {
	return func(r *Runner) { r.pacer = p }
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(launch Launcher, processor TargetProcessor, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		launch:    launch,
		processor: processor,
		pacer:     ratelimit.NewPacer(0),
		now:       time.Now,
		logger:    logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the targets in order and returns the records of those that
// succeeded, in target order.
func (r *Runner) Run(ctx context.Context, targets []models.TargetSpec) ([]models.OutputRecord, error) {
	report, err := r.Execute(ctx, targets)
	return report.Records, err
}

// Execute is Run with per-target failure details.
func (r *Runner) Execute(ctx context.Context, targets []models.TargetSpec) (Report, error) {
	report := Report{
		Records:   make([]models.OutputRecord, 0, len(targets)),
		StartedAt: r.now(),
	}

	session, err := r.launch(ctx)
	if err != nil {
		report.FinishedAt = r.now()
		return report, fmt.Errorf("%w: %v", ErrDriverInit, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Error("failed to close browser session", "error", err)
		}
	}()

	page, err := session.NewPage()
	if err != nil {
		report.FinishedAt = r.now()
		return report, fmt.Errorf("%w: failed to open page: %v", ErrDriverInit, err)
	}

	r.logger.Info("run started", "targets", len(targets))

	var runErr error
	for i, target := range targets {
		if err := r.pacer.Wait(ctx); err != nil {
			runErr = err
			break
		}

		result := r.processor.Process(ctx, page, target)
		if result.Succeeded() {
			report.Records = append(report.Records, BuildRecord(target, result.Price, r.now()))
			continue
		}

		failure := Failure{
			ID:       target.ID(),
			Brand:    target.Brand,
			Reason:   extract.ReasonTargetExhausted,
			Attempts: result.Attempts,
		}
		if result.LastRaw != nil {
			failure.LastRaw = fmt.Sprint(result.LastRaw.Value)
		}
		if result.Err != nil {
			failure.Error = result.Err.Error()
		}
		report.Failures = append(report.Failures, failure)

		r.logger.Warn("target exhausted",
			"brand", target.Brand,
			"position", i+1,
			"attempts", result.Attempts,
			"last_reason", result.Reason,
		)

		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}

	report.FinishedAt = r.now()
	r.logger.Info("run finished",
		"processed", len(report.Records)+len(report.Failures),
		"succeeded", len(report.Records),
		"failed", len(report.Failures),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)

	return report, runErr
}
