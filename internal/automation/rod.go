package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/phuslu/log"
)

type RodConfig struct {
	Headless   bool
	Bin        string
	NavTimeout time.Duration
}

// RodLauncher starts one Chromium process per Open call.
type RodLauncher struct {
	cfg RodConfig
	log *log.Logger
}

func NewRodLauncher(cfg RodConfig, logger *log.Logger) *RodLauncher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	return &RodLauncher{cfg: cfg, log: logger}
}

func (l *RodLauncher) Open(ctx context.Context, opts Options) (Session, error) {
	ln := launcher.New().Headless(l.cfg.Headless)
	if l.cfg.Bin != "" {
		ln = ln.Bin(l.cfg.Bin)
	}
	u, err := ln.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if opts.IgnoreCertErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			l.log.Warn().Err(err).Msg("ignore cert errors")
		}
	}

	page, err := newStealthPage(browser)
	if err != nil {
		_ = browser.Close()
		ln.Kill()
		return nil, err
	}

	l.log.Debug().Bool("headless", l.cfg.Headless).Msg("browser session opened")
	return &rodSession{
		browser:    browser,
		page:       page,
		launcher:   ln,
		navTimeout: l.cfg.NavTimeout,
		owner:      true,
	}, nil
}

func newStealthPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	return page, nil
}

type rodSession struct {
	browser    *rod.Browser
	page       *rod.Page
	launcher   *launcher.Launcher
	navTimeout time.Duration
	// owner sessions close the browser, tabs only their page
	owner bool
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (s *rodSession) Find(ctx context.Context, selector string) ([]Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (s *rodSession) Fill(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Timeout(s.navTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return el.Input(value)
}

func (s *rodSession) Screenshot(ctx context.Context, path string) error {
	img, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) URL(ctx context.Context) string {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) error {
	return Poll(ctx, s, cond, timeout, 250*time.Millisecond)
}

func (s *rodSession) NewTab(ctx context.Context) (Session, error) {
	page, err := newStealthPage(s.browser)
	if err != nil {
		return nil, err
	}
	return &rodSession{browser: s.browser, page: page, navTimeout: s.navTimeout}, nil
}

func (s *rodSession) Close() error {
	err := s.page.Close()
	if !s.owner {
		return err
	}
	if cerr := s.browser.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, rodElement{el: el})
	}
	return out
}

func (e rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e rodElement) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e rodElement) Find(selector string) ([]Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}
