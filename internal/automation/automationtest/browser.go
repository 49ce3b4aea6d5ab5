// Package automationtest provides an in-memory automation.Launcher that
// serves canned HTML, for tests of code that drives a browser session.
package automationtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"catalog-import-service/internal/automation"
)

// Browser maps URLs to HTML. Clicking a selector registered with OnClick
// moves the session to another URL, which is how forms and "next" buttons are scripted.
type Browser struct {
	mu          sync.Mutex
	pages       map[string]string
	navErrs     map[string]error
	clicks      map[string]string
	openErr     error
	opened      int
	closed      int
	navigations []string
	screenshots []string
	filled      map[string]string
}

func New() *Browser {
	return &Browser{
		pages:   map[string]string{},
		navErrs: map[string]error{},
		clicks:  map[string]string{},
		filled:  map[string]string{},
	}
}

func (b *Browser) Page(url, html string) *Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = html
	return b
}

// FailNavigation makes every navigation to url return err.
func (b *Browser) FailNavigation(url string, err error) *Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navErrs[url] = err
	return b
}

// OnClick makes a click on selector while at fromURL land on toURL.
func (b *Browser) OnClick(fromURL, selector, toURL string) *Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clicks[fromURL+"\x00"+selector] = toURL
	return b
}

func (b *Browser) FailOpen(err error) *Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
	return b
}

func (b *Browser) Open(ctx context.Context, _ automation.Options) (automation.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	return &session{b: b}, nil
}

func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Closed counts closed sessions and tabs.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

func (b *Browser) Screenshots() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.screenshots...)
}

// Filled returns the last value typed into selector.
func (b *Browser) Filled(selector string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled[selector]
}

type session struct {
	b   *Browser
	url string
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.navigations = append(s.b.navigations, url)
	if err := s.b.navErrs[url]; err != nil {
		return err
	}
	if _, ok := s.b.pages[url]; !ok {
		return fmt.Errorf("navigate %s: 404", url)
	}
	s.url = url
	return nil
}

func (s *session) doc() (*goquery.Document, error) {
	s.b.mu.Lock()
	raw, ok := s.b.pages[s.url]
	s.b.mu.Unlock()
	if !ok {
		return nil, errors.New("no page loaded")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(raw))
}

func (s *session) Find(ctx context.Context, selector string) ([]automation.Element, error) {
	d, err := s.doc()
	if err != nil {
		return nil, err
	}
	return s.wrap(d.Find(selector), selector), nil
}

func (s *session) wrap(sel *goquery.Selection, selector string) []automation.Element {
	var out []automation.Element
	sel.Each(func(_ int, one *goquery.Selection) {
		out = append(out, element{s: s, sel: one, selector: selector})
	})
	return out
}

func (s *session) Fill(ctx context.Context, selector, value string) error {
	d, err := s.doc()
	if err != nil {
		return err
	}
	if d.Find(selector).Length() == 0 {
		return fmt.Errorf("fill %s: %w", selector, automation.ErrNoElement)
	}
	s.b.mu.Lock()
	s.b.filled[selector] = value
	s.b.mu.Unlock()
	return nil
}

func (s *session) Screenshot(ctx context.Context, path string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.screenshots = append(s.b.screenshots, path)
	return nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	raw, ok := s.b.pages[s.url]
	if !ok {
		return "", errors.New("no page loaded")
	}
	return raw, nil
}

func (s *session) URL(ctx context.Context) string { return s.url }

func (s *session) WaitUntil(ctx context.Context, cond automation.Condition, timeout time.Duration) error {
	return automation.Poll(ctx, s, cond, timeout, time.Millisecond)
}

func (s *session) NewTab(ctx context.Context) (automation.Session, error) {
	return &session{b: s.b}, nil
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closed++
	return nil
}

type element struct {
	s        *session
	sel      *goquery.Selection
	selector string
}

func (e element) Text() (string, error) { return e.sel.Text(), nil }

func (e element) Attribute(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e element) Click() error {
	e.s.b.mu.Lock()
	to, ok := e.s.b.clicks[e.s.url+"\x00"+e.selector]
	e.s.b.mu.Unlock()
	if ok {
		e.s.url = to
	}
	return nil
}

func (e element) Find(selector string) ([]automation.Element, error) {
	return e.s.wrap(e.sel.Find(selector), selector), nil
}
