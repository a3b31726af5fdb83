// Package session abstracts the interactive browser session the workflow
// drives. Everything above this package talks to the portal through the
// Session interface only, so the navigation and delegation logic can run
// against the in-memory fake in sessiontest as easily as against Chrome.
package session

import (
	"context"
	"fmt"
	"time"
)

// By names a selector strategy.
type By string

const (
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// Selector is a typed locator for a control on the current page.
type Selector struct {
	By    By
	Value string
}

func CSS(value string) Selector   { return Selector{By: ByCSS, Value: value} }
func XPath(value string) Selector { return Selector{By: ByXPath, Value: value} }

func (s Selector) String() string {
	return fmt.Sprintf("%s:%s", s.By, s.Value)
}

// ContextID identifies one focusable surface of the session: a window,
// tab, or popup. IDs are opaque and only valid within one session.
type ContextID string

// Element is an opaque handle to a located control. A handle belongs to
// the session that produced it and stays valid only until the page under
// it changes.
type Element struct {
	ref any
}

// MakeElement wraps an implementation-specific reference. Only Session
// implementations should call this.
func MakeElement(ref any) Element { return Element{ref: ref} }

// Ref returns the implementation-specific reference for unwrapping by
// the Session implementation that created the element.
func (e Element) Ref() any { return e.ref }

// Session is the capability surface of one stateful remote browser
// session. All calls are synchronous and must be issued sequentially:
// the session has a single focus context at a time.
type Session interface {
	// Location returns the current context's URL.
	Location(ctx context.Context) (string, error)

	// Contexts lists the open contexts. The primal context (the one the
	// session started with) is always first; the order of the rest is
	// stable within a call but otherwise unspecified.
	Contexts(ctx context.Context) ([]ContextID, error)

	// SwitchTo makes the given context the target of subsequent calls.
	SwitchTo(ctx context.Context, id ContextID) error

	// CloseContext closes the given context. Closing the current context
	// leaves the session focused on the primal one.
	CloseContext(ctx context.Context, id ContextID) error

	// OpenNamedContext opens url in a new named context with the given
	// window geometry (for example "width=810,height=600"). The URL may
	// be relative to the current context's location. The call returns
	// once the open has been issued; callers detect the new context via
	// Contexts.
	OpenNamedContext(ctx context.Context, url, name, geometry string) error

	// Navigate loads url in the current context.
	Navigate(ctx context.Context, url string) error

	// Eval runs a script in the current context, discarding its result.
	Eval(ctx context.Context, script string) error

	// FindIfPresent locates the first match without waiting. Absence is
	// an ordinary outcome, not an error.
	FindIfPresent(ctx context.Context, sel Selector) (Element, bool, error)

	// FindAll locates every current match without waiting.
	FindAll(ctx context.Context, sel Selector) ([]Element, error)

	// WaitPresent waits up to timeout for a match to exist.
	WaitPresent(ctx context.Context, sel Selector, timeout time.Duration) (Element, error)

	// WaitClickable waits up to timeout for a match to be visible and
	// enabled.
	WaitClickable(ctx context.Context, sel Selector, timeout time.Duration) (Element, error)

	// Click clicks a previously located element.
	Click(ctx context.Context, el Element) error

	// Type clears the element and types text into it.
	Type(ctx context.Context, el Element, text string) error

	// IsSelected reports whether a checkbox or radio element is checked.
	IsSelected(ctx context.Context, el Element) (bool, error)

	// Attr returns the value of an attribute, or "" when absent.
	Attr(ctx context.Context, el Element, name string) (string, error)

	// Source returns the current context's full page HTML.
	Source(ctx context.Context) (string, error)
}
