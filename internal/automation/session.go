// Package automation is the browser capability the import pipeline drives.
// Suppliers only see Session and Element, never a concrete browser engine.
package automation

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTimeout   = errors.New("automation: condition not met before timeout")
	ErrNoElement = errors.New("automation: no element matches selector")
)

type Session interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, selector string) ([]Element, error)
	// Fill replaces the value of the first input matching selector.
	Fill(ctx context.Context, selector, value string) error
	Screenshot(ctx context.Context, path string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) string
	WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) error
	// NewTab opens another page sharing cookies with this one.
	NewTab(ctx context.Context) (Session, error)
	Close() error
}

type Element interface {
	Text() (string, error)
	// Attribute returns ok=false when the attribute is absent.
	Attribute(name string) (value string, ok bool, err error)
	Click() error
	Find(selector string) ([]Element, error)
}

type Options struct {
	IgnoreCertErrors bool
}

type Launcher interface {
	Open(ctx context.Context, opts Options) (Session, error)
}

// Condition is evaluated repeatedly by WaitUntil until it reports true.
type Condition func(ctx context.Context, s Session) (bool, error)

// Poll evaluates cond every interval until it holds, ctx ends or timeout passes.
// Errors returned by cond are treated as "not yet".
func Poll(ctx context.Context, s Session, cond Condition, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if ok, _ := cond(ctx, s); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-tick.C:
		}
	}
}

func SelectorPresent(selector string) Condition {
	return func(ctx context.Context, s Session) (bool, error) {
		els, err := s.Find(ctx, selector)
		if err != nil {
			return false, err
		}
		return len(els) > 0, nil
	}
}

func URLContains(part string) Condition {
	return func(ctx context.Context, s Session) (bool, error) {
		return strings.Contains(s.URL(ctx), part), nil
	}
}

func URLChanged(from string) Condition {
	return func(ctx context.Context, s Session) (bool, error) {
		return s.URL(ctx) != from, nil
	}
}

func AnyOf(conds ...Condition) Condition {
	return func(ctx context.Context, s Session) (bool, error) {
		for _, c := range conds {
			if ok, _ := c(ctx, s); ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// ClickFirst clicks the first element matching selector.
func ClickFirst(ctx context.Context, s Session, selector string) error {
	els, err := s.Find(ctx, selector)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return ErrNoElement
	}
	return els[0].Click()
}
