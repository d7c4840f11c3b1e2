// Package browsertest provides an in-memory browser.Page backed by goquery.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/prothunter/internal/browser"
)

// Page serves scripted HTML documents. A URL found in Routes always loads its
// document; otherwise the n-th navigation loads Documents[n], repeating the
// last document once the list is exhausted.
type Page struct {
	Routes    map[string]string
	Documents []string
	// NavErrors[n] is returned by the n-th navigation when non-nil.
	NavErrors []error
	// PanicOn lists navigation indexes that panic instead of loading.
	PanicOn       map[int]bool
	ScreenshotErr error

	mu          sync.Mutex
	doc         *goquery.Document
	urls        []string
	keys        []string
	clicks      []string
	scripts     []string
	screenshots []string
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a page that serves the given documents in order.
func NewPage(documents ...string) *Page {
	return &Page{Documents: documents}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	idx := len(p.urls)
	p.urls = append(p.urls, url)
	p.doc = nil
	p.mu.Unlock()

	if p.PanicOn[idx] {
		panic(fmt.Sprintf("navigation %d exploded", idx))
	}
	if idx < len(p.NavErrors) && p.NavErrors[idx] != nil {
		return p.NavErrors[idx]
	}
	html, ok := p.Routes[url]
	if !ok {
		if len(p.Documents) == 0 {
			return fmt.Errorf("no document scripted for %s", url)
		}
		html = p.Documents[len(p.Documents)-1]
		if idx < len(p.Documents) {
			html = p.Documents[idx]
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func (p *Page) document() (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return p.doc, nil
}

func (p *Page) Content() (string, error) {
	doc, err := p.document()
	if err != nil {
		return "", err
	}
	return doc.Html()
}

func (p *Page) BodyText() (string, error) {
	doc, err := p.document()
	if err != nil {
		return "", err
	}
	body := doc.Find("body").Clone()
	body.Find("script, style").Remove()
	return body.Text(), nil
}

func (p *Page) WaitForElement(selector string, _ time.Duration) (browser.Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, browser.ErrElementNotFound
	}
	return &Element{page: p, sel: sel}, nil
}

func (p *Page) FindElements(selector string) ([]browser.Element, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	var elements []browser.Element
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, &Element{page: p, sel: s})
	})
	return elements, nil
}

func (p *Page) PressKey(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *Page) Evaluate(script string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil, nil
}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots = append(p.screenshots, path)
	return p.ScreenshotErr
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Clicks returns the trimmed text of every clicked element.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

// Element is a goquery selection. Elements with a hidden attribute or an
// inline display:none are reported invisible.
type Element struct {
	page *Page
	sel  *goquery.Selection
}

func (e *Element) Text() (string, error) {
	return e.sel.Text(), nil
}

func (e *Element) Attribute(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e *Element) IsVisible() (bool, error) {
	if _, hidden := e.sel.Attr("hidden"); hidden {
		return false, nil
	}
	style, _ := e.sel.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return !strings.Contains(style, "display:none"), nil
}

func (e *Element) Click() error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.page.clicks = append(e.page.clicks, strings.TrimSpace(e.sel.Text()))
	return nil
}
