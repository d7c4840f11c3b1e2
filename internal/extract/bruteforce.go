package extract

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
	"github.com/maltedev/prothunter/internal/parser"
)

// every two-decimal amount; currency adjacency is checked separately so that
// one symbol can sit between two amounts
var amountPattern = regexp.MustCompile(`\d+[.,]\d{2}`)

const currencySymbols = "€$£"

// BruteForce scans the visible body text for currency amounts and keeps the
// first one strictly inside the target's plausible price range.
type BruteForce struct {
	defaultMin float64
	defaultMax float64
	logger     *slog.Logger
}

func NewBruteForce(defaultMin, defaultMax float64, logger *slog.Logger) *BruteForce {
	return &BruteForce{defaultMin: defaultMin, defaultMax: defaultMax, logger: logger}
}

func (b *BruteForce) Source() Source { return SourceBruteForce }

func (b *BruteForce) Extract(_ context.Context, page browser.Page, target models.TargetSpec) (Candidate, bool) {
	low, high := target.PriceBounds(b.defaultMin, b.defaultMax)
	if low >= high {
		b.logger.Warn("empty price range, skipping text scan",
			"brand", target.Brand,
			"price_min", low,
			"price_max", high)
		return Candidate{}, false
	}

	text, err := page.BodyText()
	if err != nil {
		b.logger.Debug("failed to read body text", "error", err)
		return Candidate{}, false
	}

	if amount, ok := firstAmountInRange(text, low, high); ok {
		return Candidate{Value: amount, Source: SourceBruteForce}, true
	}
	return Candidate{}, false
}

func firstAmountInRange(text string, low, high float64) (string, bool) {
	text = parser.NormalizeText(text)

	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		// "34,999" is not a two-decimal amount
		if r, _ := utf8.DecodeRuneInString(text[end:]); unicode.IsDigit(r) {
			continue
		}
		if !currencyBefore(text[:start]) && !currencyAfter(text[end:]) {
			continue
		}

		amount := text[start:end]
		value, ok := parser.ParseAmount(amount)
		if !ok {
			continue
		}
		if value > low && value < high {
			return amount, true
		}
	}
	return "", false
}

func currencyBefore(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(strings.TrimRightFunc(s, unicode.IsSpace))
	return strings.ContainsRune(currencySymbols, r)
}

func currencyAfter(s string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimLeftFunc(s, unicode.IsSpace))
	return strings.ContainsRune(currencySymbols, r)
}
