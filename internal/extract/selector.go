package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
)

// Selectors waits for the first element matching any of the target's price
// selectors. The content attribute wins over the rendered text.
type Selectors struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewSelectors(timeout time.Duration, logger *slog.Logger) *Selectors {
	return &Selectors{timeout: timeout, logger: logger}
}

func (s *Selectors) Source() Source { return SourceSelector }

func (s *Selectors) Extract(_ context.Context, page browser.Page, target models.TargetSpec) (Candidate, bool) {
	group := selectorGroup(target.PriceSelectors)
	if group == "" {
		return Candidate{}, false
	}

	el, err := page.WaitForElement(group, s.timeout)
	if err != nil {
		s.logger.Debug("price selector did not match", "selector", group, "reason", ReasonSelectorMiss, "error", err)
		return Candidate{}, false
	}

	if content, ok, err := el.Attribute("content"); err == nil && ok && strings.TrimSpace(content) != "" {
		return Candidate{Value: strings.TrimSpace(content), Source: SourceSelector}, true
	}

	text, err := el.Text()
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Debug("price element has no text", "selector", group, "reason", ReasonSelectorMiss)
		return Candidate{}, false
	}

	return Candidate{Value: strings.TrimSpace(text), Source: SourceSelector}, true
}

func selectorGroup(selectors []string) string {
	parts := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
