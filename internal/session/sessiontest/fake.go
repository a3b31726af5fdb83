// Package sessiontest provides an in-memory Session for exercising the
// navigation and delegation logic without a browser. Tests script page
// state through the exported maps and react to workflow actions through
// the On* hooks.
package sessiontest

import (
	"context"
	"fmt"
	"time"

	"github.com/tmercier/delegatva/internal/session"
)

// OpenRequest records one OpenNamedContext call.
type OpenRequest struct {
	URL      string
	Name     string
	Geometry string
}

// Fake is a scriptable Session. Elements located through single-match
// calls are keyed by their selector value; elements in FindAll groups
// are keyed by the ids listed in Groups. Clicking an element that has an
// entry in Selected flips that entry, which models checkbox and radio
// toggling closely enough for the workflow.
//
// Fake is not safe for concurrent use; the Session contract is strictly
// sequential anyway.
type Fake struct {
	URL      string
	PageHTML string

	Ctxs    []session.ContextID
	Current session.ContextID

	Present  map[string]bool
	Groups   map[string][]string
	Selected map[string]bool
	Attrs    map[string]map[string]string

	Clicked   []string
	Typed     map[string][]string
	Evaled    []string
	Navigated []string
	Switched  []session.ContextID
	Closed    []session.ContextID
	Opened    []OpenRequest

	OnFind     func(value string)
	OnClick    func(id string)
	OnEval     func(script string)
	OnOpen     func(req OpenRequest)
	OnNavigate func(url string)
}

// New returns a Fake with a single primal context.
func New() *Fake {
	return &Fake{
		Ctxs:     []session.ContextID{"main"},
		Current:  "main",
		Present:  make(map[string]bool),
		Groups:   make(map[string][]string),
		Selected: make(map[string]bool),
		Attrs:    make(map[string]map[string]string),
		Typed:    make(map[string][]string),
	}
}

func elemID(el session.Element) string {
	id, _ := el.Ref().(string)
	return id
}

func (f *Fake) Location(ctx context.Context) (string, error) { return f.URL, nil }

func (f *Fake) Contexts(ctx context.Context) ([]session.ContextID, error) {
	out := make([]session.ContextID, len(f.Ctxs))
	copy(out, f.Ctxs)
	return out, nil
}

func (f *Fake) SwitchTo(ctx context.Context, id session.ContextID) error {
	for _, c := range f.Ctxs {
		if c == id {
			f.Current = id
			f.Switched = append(f.Switched, id)
			return nil
		}
	}
	return fmt.Errorf("no such context: %s", id)
}

func (f *Fake) CloseContext(ctx context.Context, id session.ContextID) error {
	kept := f.Ctxs[:0]
	found := false
	for _, c := range f.Ctxs {
		if c == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("no such context: %s", id)
	}
	f.Ctxs = kept
	f.Closed = append(f.Closed, id)
	if f.Current == id && len(f.Ctxs) > 0 {
		f.Current = f.Ctxs[0]
	}
	return nil
}

func (f *Fake) OpenNamedContext(ctx context.Context, url, name, geometry string) error {
	req := OpenRequest{URL: url, Name: name, Geometry: geometry}
	f.Opened = append(f.Opened, req)
	if f.OnOpen != nil {
		f.OnOpen(req)
	}
	return nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.Navigated = append(f.Navigated, url)
	f.URL = url
	if f.OnNavigate != nil {
		f.OnNavigate(url)
	}
	return nil
}

func (f *Fake) Eval(ctx context.Context, script string) error {
	f.Evaled = append(f.Evaled, script)
	if f.OnEval != nil {
		f.OnEval(script)
	}
	return nil
}

func (f *Fake) FindIfPresent(ctx context.Context, sel session.Selector) (session.Element, bool, error) {
	if f.OnFind != nil {
		f.OnFind(sel.Value)
	}
	if !f.Present[sel.Value] {
		return session.Element{}, false, nil
	}
	return session.MakeElement(sel.Value), true, nil
}

func (f *Fake) FindAll(ctx context.Context, sel session.Selector) ([]session.Element, error) {
	if f.OnFind != nil {
		f.OnFind(sel.Value)
	}
	ids := f.Groups[sel.Value]
	els := make([]session.Element, 0, len(ids))
	for _, id := range ids {
		els = append(els, session.MakeElement(id))
	}
	return els, nil
}

func (f *Fake) WaitPresent(ctx context.Context, sel session.Selector, timeout time.Duration) (session.Element, error) {
	if !f.Present[sel.Value] {
		return session.Element{}, &session.OpError{Op: "wait present", Sel: sel, Err: session.ErrTimeout}
	}
	return session.MakeElement(sel.Value), nil
}

func (f *Fake) WaitClickable(ctx context.Context, sel session.Selector, timeout time.Duration) (session.Element, error) {
	if !f.Present[sel.Value] {
		return session.Element{}, &session.OpError{Op: "wait clickable", Sel: sel, Err: session.ErrTimeout}
	}
	return session.MakeElement(sel.Value), nil
}

func (f *Fake) Click(ctx context.Context, el session.Element) error {
	id := elemID(el)
	f.Clicked = append(f.Clicked, id)
	if _, stateful := f.Selected[id]; stateful {
		f.Selected[id] = !f.Selected[id]
	}
	if f.OnClick != nil {
		f.OnClick(id)
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, el session.Element, text string) error {
	id := elemID(el)
	f.Typed[id] = append(f.Typed[id], text)
	return nil
}

func (f *Fake) IsSelected(ctx context.Context, el session.Element) (bool, error) {
	return f.Selected[elemID(el)], nil
}

func (f *Fake) Attr(ctx context.Context, el session.Element, name string) (string, error) {
	return f.Attrs[elemID(el)][name], nil
}

func (f *Fake) Source(ctx context.Context) (string, error) { return f.PageHTML, nil }

// AddContext registers a new open context, as a click or scripted
// window.open would.
func (f *Fake) AddContext(id session.ContextID) {
	f.Ctxs = append(f.Ctxs, id)
}

// Clicks counts how many times the element with the given id was
// clicked.
func (f *Fake) Clicks(id string) int {
	n := 0
	for _, c := range f.Clicked {
		if c == id {
			n++
		}
	}
	return n
}
