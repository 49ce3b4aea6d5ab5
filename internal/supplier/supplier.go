// Package supplier holds the site-specific halves of an import: how to log in
// to each catalog and how to read its category and product pages.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/logger"
	"catalog-import-service/internal/pipeline"
)

var ErrUnknownSupplier = errors.New("unknown supplier")

const defaultWaitTimeout = 30 * time.Second

// Options are shared by every supplier.
type Options struct {
	// ScreenshotDir enables one screenshot per product detail page when set.
	ScreenshotDir string
	// WaitTimeout bounds login redirects and page switches.
	WaitTimeout time.Duration
	Log         *log.Logger
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = defaultWaitTimeout
	}
	if o.Log == nil {
		o.Log = logger.Discard()
	}
	return o
}

// Names lists the registered supplier keys.
func Names() []string { return []string{NoriegaName, EmasaName} }

// Resolve returns a fresh supplier for one job. Suppliers keep per-job
// paging state and must not be shared between jobs.
func Resolve(name string, opts Options) (pipeline.Supplier, error) {
	opts = opts.withDefaults()
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case NoriegaName:
		return NewNoriega(opts), nil
	case EmasaName:
		return NewEmasa(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSupplier, name)
}

// loginForm is the rut / user / password form both sites share.
type loginForm struct {
	URL      string
	RUT      string
	Username string
	Password string
	Submit   string
	// Marker is a URL fragment that is only present on the login page.
	Marker string
}

var modalClose = []string{
	"div.swal2-container button.swal2-confirm",
	".modal.in button.close",
	".modal.show button.close",
	"div[role=\"dialog\"] button.close",
}

func (f loginForm) login(ctx context.Context, s automation.Session, creds entity.Credentials, opts Options) error {
	for _, key := range []string{"rut", "username", "password"} {
		if strings.TrimSpace(creds[key]) == "" {
			return fmt.Errorf("missing credential %q", key)
		}
	}

	if err := s.Navigate(ctx, f.URL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := s.WaitUntil(ctx, automation.SelectorPresent(f.RUT), opts.WaitTimeout); err != nil {
		return fmt.Errorf("login form not found: %w", err)
	}

	fields := [][2]string{{f.RUT, creds["rut"]}, {f.Username, creds["username"]}, {f.Password, creds["password"]}}
	for _, fv := range fields {
		if err := s.Fill(ctx, fv[0], fv[1]); err != nil {
			return fmt.Errorf("fill %s: %w", fv[0], err)
		}
	}
	if err := automation.ClickFirst(ctx, s, f.Submit); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	leftLogin := func(ctx context.Context, s automation.Session) (bool, error) {
		return !strings.Contains(s.URL(ctx), f.Marker), nil
	}
	if err := s.WaitUntil(ctx, leftLogin, opts.WaitTimeout); err != nil {
		if errors.Is(err, automation.ErrTimeout) {
			return errors.New("credentials rejected: still on the login page")
		}
		return err
	}

	// welcome popups cover the page on some accounts
	for _, sel := range modalClose {
		if err := automation.ClickFirst(ctx, s, sel); err == nil {
			opts.Log.Debug().Str("selector", sel).Msg("closed post-login modal")
			break
		}
	}
	return nil
}

func screenshot(ctx context.Context, s automation.Session, opts Options, supplier, key string) {
	if opts.ScreenshotDir == "" {
		return
	}
	if err := os.MkdirAll(opts.ScreenshotDir, 0o755); err != nil {
		opts.Log.Warn().Err(err).Str("dir", opts.ScreenshotDir).Msg("screenshot dir")
		return
	}
	path := filepath.Join(opts.ScreenshotDir, strings.ToLower(supplier)+"_"+fileSafe(key)+".png")
	if err := s.Screenshot(ctx, path); err != nil {
		opts.Log.Warn().Err(err).Str("path", path).Msg("screenshot failed")
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileSafe(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "_")
}

var nonDigits = regexp.MustCompile(`\D`)

// parsePrice reads CLP amounts: "17.920", "$ 1.234.567" and "12990" are all
// whole pesos, dots are thousands separators.
func parsePrice(s string) float64 {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0
	}
	return v
}

func atoiPtr(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
