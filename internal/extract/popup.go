package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/maltedev/prothunter/internal/browser"
)

const clickableSelector = `button, a, [role="button"], input[type="button"], input[type="submit"]`

// PopupDismisser closes consent and newsletter overlays. It never fails.
type PopupDismisser struct {
	terms  []string
	logger *slog.Logger
}

func NewPopupDismisser(terms []string, logger *slog.Logger) *PopupDismisser {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return &PopupDismisser{terms: lowered, logger: logger}
}

// Dismiss presses Escape, then clicks the first visible element whose label
// contains an accept term.
func (d *PopupDismisser) Dismiss(ctx context.Context, page browser.Page) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("popup dismissal panicked", "panic", r)
		}
	}()

	if err := page.PressKey("Escape"); err != nil {
		d.logger.Debug("failed to press escape", "error", err)
	}

	if len(d.terms) == 0 || ctx.Err() != nil {
		return
	}

	elements, err := page.FindElements(clickableSelector)
	if err != nil {
		d.logger.Debug("failed to list clickable elements", "error", err)
		return
	}

	for _, el := range elements {
		if !d.matches(el) {
			continue
		}
		if visible, err := el.IsVisible(); err != nil || !visible {
			continue
		}
		if err := el.Click(); err != nil {
			d.logger.Debug("failed to click consent button", "error", err)
			continue
		}
		d.logger.Debug("dismissed popup")
		return
	}
}

func (d *PopupDismisser) matches(el browser.Element) bool {
	label, err := el.Text()
	if err != nil {
		return false
	}
	// inputs carry their label in the value attribute
	if value, ok, err := el.Attribute("value"); err == nil && ok {
		label += " " + value
	}

	label = strings.ToLower(label)
	for _, term := range d.terms {
		if strings.Contains(label, term) {
			return true
		}
	}
	return false
}
