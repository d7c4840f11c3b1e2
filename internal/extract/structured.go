package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
)

// StructuredData reads the price from JSON-LD product markup.
type StructuredData struct {
	logger *slog.Logger
}

func NewStructuredData(logger *slog.Logger) *StructuredData {
	return &StructuredData{logger: logger}
}

func (s *StructuredData) Source() Source { return SourceStructuredData }

func (s *StructuredData) Extract(_ context.Context, page browser.Page, _ models.TargetSpec) (Candidate, bool) {
	html, err := page.Content()
	if err != nil {
		s.logger.Debug("failed to read page content", "error", err)
		return Candidate{}, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.logger.Debug("failed to parse page content", "error", err)
		return Candidate{}, false
	}

	var (
		found Candidate
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		var data interface{}
		dec := json.NewDecoder(strings.NewReader(sel.Text()))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			s.logger.Debug("skipping malformed structured data block", "block", i, "reason", ReasonParseFailure, "error", err)
			return true
		}

		if price, hit := priceFromStructuredData(data); hit {
			found, ok = Candidate{Value: price, Source: SourceStructuredData}, true
			return false
		}
		return true
	})

	return found, ok
}

// priceFromStructuredData looks for offers.price, then a top-level price.
// Lists are reduced to their first element at both levels.
func priceFromStructuredData(data interface{}) (interface{}, bool) {
	node, ok := first(data).(map[string]interface{})
	if !ok {
		return nil, false
	}

	if offers, ok := first(node["offers"]).(map[string]interface{}); ok {
		if price, ok := offers["price"]; ok && price != nil {
			return price, true
		}
	}

	if price, ok := node["price"]; ok && price != nil {
		return price, true
	}

	return nil, false
}

func first(v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}
