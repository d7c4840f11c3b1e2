package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrElementNotFound is returned by WaitForElement when no element matched in time.
var ErrElementNotFound = errors.New("element not found")

// Page is the navigation capability the extraction pipeline runs against.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Content returns the serialized DOM.
	Content() (string, error)
	// BodyText returns the rendered text of the document body.
	BodyText() (string, error)
	WaitForElement(selector string, timeout time.Duration) (Element, error)
	FindElements(selector string) ([]Element, error)
	PressKey(key string) error
	Evaluate(script string) (interface{}, error)
	Screenshot(path string) error
}

type Element interface {
	Text() (string, error)
	// Attribute reports the attribute value and whether the attribute is present.
	Attribute(name string) (string, bool, error)
	IsVisible() (bool, error)
	Click() error
}

type playwrightPage struct {
	page       playwright.Page
	navTimeout time.Duration
}

// WrapPage adapts a raw playwright page.
func WrapPage(page playwright.Page, navTimeout time.Duration) Page {
	return &playwrightPage{page: page, navTimeout: navTimeout}
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	timeout, err := navigationTimeout(ctx, p.navTimeout, time.Now())
	if err != nil {
		return err
	}

	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp != nil && resp.Status() >= 500 {
		return fmt.Errorf("failed to navigate to %s: status %d", url, resp.Status())
	}

	return nil
}

// navigationTimeout caps limit by the ctx deadline. Playwright reads a zero
// timeout as "wait forever", so anything under a millisecond is treated as
// already expired.
func navigationTimeout(ctx context.Context, limit time.Duration, now time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timeout := limit
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := deadline.Sub(now); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < time.Millisecond {
		return 0, context.DeadlineExceeded
	}
	return timeout, nil
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) BodyText() (string, error) {
	return p.page.Locator("body").InnerText()
}

func (p *playwrightPage) WaitForElement(selector string, timeout time.Duration) (Element, error) {
	loc := p.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, ErrElementNotFound
		}
		return nil, fmt.Errorf("failed to wait for %q: %w", selector, err)
	}

	return &playwrightElement{loc: loc}, nil
}

func (p *playwrightPage) FindElements(selector string) ([]Element, error) {
	locs, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	elements := make([]Element, 0, len(locs))
	for _, loc := range locs {
		elements = append(elements, &playwrightElement{loc: loc})
	}
	return elements, nil
}

func (p *playwrightPage) PressKey(key string) error {
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) Evaluate(script string) (interface{}, error) {
	return p.page.Evaluate(script)
}

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}
	return nil
}

type playwrightElement struct {
	loc playwright.Locator
}

func (e *playwrightElement) Text() (string, error) {
	return e.loc.InnerText()
}

func (e *playwrightElement) Attribute(name string) (string, bool, error) {
	value, err := e.loc.GetAttribute(name)
	if err != nil {
		return "", false, err
	}
	// playwright-go reports a missing attribute as an empty string
	return value, value != "", nil
}

func (e *playwrightElement) IsVisible() (bool, error) {
	return e.loc.IsVisible()
}

func (e *playwrightElement) Click() error {
	return e.loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(2000),
	})
}
