package automation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Snapshot parses the session's current DOM into a goquery document.
func Snapshot(ctx context.Context, s Session) (*goquery.Document, error) {
	raw, err := s.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	return ParseHTML(raw)
}

func ParseHTML(raw string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// CleanText collapses whitespace runs (including nbsp) into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text returns the cleaned text of the first match of selector under sel.
func Text(sel *goquery.Selection, selector string) string {
	return CleanText(sel.Find(selector).First().Text())
}

// Absolute resolves ref against base. Unparseable refs are returned unchanged.
func Absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
