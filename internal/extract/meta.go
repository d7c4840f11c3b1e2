package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/prothunter/internal/browser"
	"github.com/maltedev/prothunter/internal/models"
)

// metaPriceNames are probed in order.
var metaPriceNames = []string{
	"product:price:amount",
	"og:price:amount",
	"twitter:data1",
}

type MetaTags struct {
	logger *slog.Logger
}

func NewMetaTags(logger *slog.Logger) *MetaTags {
	return &MetaTags{logger: logger}
}

func (m *MetaTags) Source() Source { return SourceMetaTag }

func (m *MetaTags) Extract(_ context.Context, page browser.Page, _ models.TargetSpec) (Candidate, bool) {
	html, err := page.Content()
	if err != nil {
		m.logger.Debug("failed to read page content", "error", err)
		return Candidate{}, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		m.logger.Debug("failed to parse page content", "error", err)
		return Candidate{}, false
	}

	for _, name := range metaPriceNames {
		for _, attr := range []string{"property", "name"} {
			content, ok := doc.Find(fmt.Sprintf("meta[%s=%q]", attr, name)).First().Attr("content")
			if ok && strings.TrimSpace(content) != "" {
				return Candidate{Value: strings.TrimSpace(content), Source: SourceMetaTag}, true
			}
		}
	}

	return Candidate{}, false
}
