package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/extract"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/ratelimit"
)

// scrolling halfway down triggers lazy-loaded price widgets on most shops
const scrollScript = `() => window.scrollTo(0, document.body.scrollHeight / 2)`

type State int

const (
	StatePending State = iota
	StateAttempting
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the terminal outcome of processing one target.
type Result struct {
	Target   models.TargetSpec
	State    State
	Price    float64
	Source   extract.Source
	Attempts int
	// Reason of the last failed attempt, empty on success.
	Reason  extract.Reason
	LastRaw *extract.Candidate
	Err     error
}

func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}

type PriceExtractor interface {
	Run(ctx context.Context, page browser.Page, target models.TargetSpec) extract.Outcome
}

type Dismisser interface {
	Dismiss(ctx context.Context, page browser.Page)
}

type CoordinatorOptions struct {
	MaxRetries    int
	ScreenshotDir string
}

// Coordinator retries one target until a price is extracted or the attempt
// budget is spent.
type Coordinator struct {
	pipeline  PriceExtractor
	dismisser Dismisser
	policy    ratelimit.Policy
	opts      CoordinatorOptions
	logger    *slog.Logger
}

func NewCoordinator(pipeline PriceExtractor, dismisser Dismisser, policy ratelimit.Policy, opts CoordinatorOptions, logger *slog.Logger) *Coordinator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		pipeline:  pipeline,
		dismisser: dismisser,
		policy:    policy,
		opts:      opts,
		logger:    logger.With("component", "coordinator"),
	}
}

func (c *Coordinator) Process(ctx context.Context, page browser.Page, target models.TargetSpec) Result {
	result := Result{Target: target, State: StatePending}
	logger := c.logger.With("brand", target.Brand)

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		result.State = StateAttempting
		result.Attempts = attempt

		outcome, err := c.attempt(ctx, page, target)
		if err == nil && outcome.OK() {
			result.State = StateSucceeded
			result.Price = outcome.Price
			result.Source = outcome.Source
			result.Reason = ""
			result.Err = nil
			logger.Info("price found", "price", outcome.Price, "source", outcome.Source, "attempt", attempt)
			return result
		}

		result.Reason = outcome.Reason
		result.Err = err
		if outcome.LastRaw != nil {
			result.LastRaw = outcome.LastRaw
		}
		logger.Warn("attempt failed", "attempt", attempt, "max_retries", c.opts.MaxRetries, "reason", outcome.Reason, "error", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < c.opts.MaxRetries {
			if err := c.policy.Backoff(ctx, attempt); err != nil {
				break
			}
		}
	}

	result.State = StateExhausted
	if ctx.Err() != nil {
		result.Err = ctx.Err()
		return result
	}

	c.captureFailure(page, target, logger)
	return result
}

// attempt runs one navigate-settle-dismiss-scroll-extract cycle. A panic in
// the page capability is converted into an error.
func (c *Coordinator) attempt(ctx context.Context, page browser.Page, target models.TargetSpec) (outcome extract.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = extract.Outcome{Reason: extract.ReasonNavigationFailure}
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()

	if err := page.Navigate(ctx, target.URL); err != nil {
		return extract.Outcome{Reason: extract.ReasonNavigationFailure}, err
	}

	if err := c.policy.Settle(ctx); err != nil {
		return extract.Outcome{Reason: extract.ReasonNavigationFailure}, err
	}

	c.dismisser.Dismiss(ctx, page)

	if _, err := page.Evaluate(scrollScript); err != nil {
		c.logger.Debug("failed to scroll page", "brand", target.Brand, "error", err)
	}

	return c.pipeline.Run(ctx, page, target), nil
}

func (c *Coordinator) captureFailure(page browser.Page, target models.TargetSpec, logger *slog.Logger) {
	path := ScreenshotPath(c.opts.ScreenshotDir, target)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("screenshot panicked", "path", path, "panic", r)
		}
	}()

	if err := page.Screenshot(path); err != nil {
		logger.Error("failed to save failure screenshot", "path", path, "error", err)
		return
	}
	logger.Info("saved failure screenshot", "path", path)
}

// ScreenshotPath is the deterministic location of a target's failure screenshot.
func ScreenshotPath(dir string, target models.TargetSpec) string {
	return filepath.Join(dir, "error_"+target.ID()+".png")
}
