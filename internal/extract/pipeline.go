package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/parser"
)

type Options struct {
	SelectorTimeout time.Duration
	PriceMin        float64
	PriceMax        float64
}

// Pipeline runs the strategies in order and stops at the first candidate
// that cleans into a price.
type Pipeline struct {
	extractors []Extractor
	logger     *slog.Logger
}

func NewPipeline(opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "extract")

	return newPipeline(logger,
		NewStructuredData(logger),
		NewMetaTags(logger),
		NewSelectors(opts.SelectorTimeout, logger),
		NewBruteForce(opts.PriceMin, opts.PriceMax, logger),
	)
}

func newPipeline(logger *slog.Logger, extractors ...Extractor) *Pipeline {
	return &Pipeline{extractors: extractors, logger: logger}
}

func (p *Pipeline) Run(ctx context.Context, page browser.Page, target models.TargetSpec) Outcome {
	var last *Candidate

	for _, ex := range p.extractors {
		if ctx.Err() != nil {
			break
		}

		candidate, ok := ex.Extract(ctx, page, target)
		if !ok {
			continue
		}

		c := candidate
		last = &c

		price, ok := parser.CleanPrice(candidate.Value)
		if !ok {
			p.logger.Debug("candidate did not clean",
				"brand", target.Brand,
				"source", candidate.Source,
				"raw", candidate.Value,
				"reason", ReasonParseFailure,
			)
			continue
		}

		return Outcome{Price: price, Source: candidate.Source}
	}

	return Outcome{Reason: ReasonNoPriceFound, LastRaw: last}
}
