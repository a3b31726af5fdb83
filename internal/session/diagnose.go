package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const briefLimit = 300

// Brief is a compact, human-readable description of the screen the
// session is currently stuck on, attached to navigation failure reports
// so the operator can tell an error interstitial from a login bounce
// without opening the browser.
type Brief struct {
	Title   string
	Excerpt string
}

func (b Brief) String() string {
	switch {
	case b.Title == "" && b.Excerpt == "":
		return "(blank page)"
	case b.Excerpt == "":
		return b.Title
	case b.Title == "":
		return b.Excerpt
	}
	return fmt.Sprintf("%s - %s", b.Title, b.Excerpt)
}

// Describe captures the current page and reduces it to a title and a
// sanitized text excerpt.
func Describe(ctx context.Context, s Session) (Brief, error) {
	html, err := s.Source(ctx)
	if err != nil {
		return Brief{}, err
	}
	loc, err := s.Location(ctx)
	if err != nil {
		loc = ""
	}
	pageURL, err := url.Parse(loc)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return Brief{}, fmt.Errorf("parse page: %w", err)
	}

	p := bluemonday.StrictPolicy()
	text := strings.Join(strings.Fields(p.Sanitize(article.TextContent)), " ")
	if len(text) > briefLimit {
		text = text[:briefLimit] + "..."
	}
	return Brief{Title: strings.TrimSpace(article.Title), Excerpt: text}, nil
}
