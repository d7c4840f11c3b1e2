// Package extract locates a raw price on a rendered product page.
//
// Strategies run in a fixed order (structured data, meta tags, configured
// selectors, brute-force text scan). Each returns an explicit candidate or
// reports absence; none of them returns an error.
package extract

import (
	"context"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
)

// Source records which strategy produced a candidate.
type Source string

const (
	SourceStructuredData Source = "structured-data"
	SourceMetaTag        Source = "meta-tag"
	SourceSelector       Source = "selector"
	SourceBruteForce     Source = "brute-force"
)

// Reason classifies a failure. Only target-exhausted and driver failures are
// visible outside the scraper package; the others are logged.
type Reason string

const (
	ReasonSelectorMiss      Reason = "selector-miss"
	ReasonParseFailure      Reason = "parse-failure"
	ReasonNoPriceFound      Reason = "no-price-found"
	ReasonNavigationFailure Reason = "navigation-failure"
	ReasonTargetExhausted   Reason = "target-exhausted"
)

// Candidate is a raw price value (string or number) with its provenance.
type Candidate struct {
	Value  interface{}
	Source Source
}

// Outcome is the result of one pipeline run. Reason is empty on success.
type Outcome struct {
	Price   float64
	Source  Source
	Reason  Reason
	LastRaw *Candidate
}

func (o Outcome) OK() bool {
	return o.Reason == ""
}

type Extractor interface {
	Source() Source
	Extract(ctx context.Context, page browser.Page, target models.TargetSpec) (Candidate, bool)
}
