// Package navigation recovers a portal session to the delegation entry
// screen. Starting from whatever state the session is in, it dismisses
// error interstitials, collapses stray contexts, walks home and reopens
// the service-management and delegation contexts, retrying the whole
// walk up to a configured attempt budget.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/tmercier/delegatva/internal/opale"
	"github.com/tmercier/delegatva/internal/session"
)

// Location is the machine's belief about which canonical screen the
// session currently occupies. It lives only inside a single recovery
// attempt; the remote session does not survive a process restart, so it
// is never persisted.
type Location int

const (
	Unknown Location = iota
	Home
	ServiceManagement
	DelegationEntry
	ErrorScreen
)

func (l Location) String() string {
	switch l {
	case Home:
		return "home"
	case ServiceManagement:
		return "service-management"
	case DelegationEntry:
		return "delegation-entry"
	case ErrorScreen:
		return "error-screen"
	default:
		return "unknown"
	}
}

// Options bound the recovery walk. Zero values take the defaults below.
type Options struct {
	// Attempts is the full-walk retry budget.
	Attempts int
	// ActionDelay is the base settle pause; transitions wait small
	// multiples of it so freshly opened screens can finish rendering.
	ActionDelay time.Duration
	// PageTimeout bounds waits for context creation and clickability.
	PageTimeout time.Duration
	// ConfirmTimeout bounds the final check for the identifier input.
	ConfirmTimeout time.Duration
}

const (
	defaultAttempts       = 3
	defaultActionDelay    = time.Second
	defaultPageTimeout    = 30 * time.Second
	defaultConfirmTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.ActionDelay <= 0 {
		o.ActionDelay = defaultActionDelay
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = defaultConfirmTimeout
	}
	return o
}

// TransientUIError is an expected interstitial or rendering hiccup that
// failed one recovery attempt. The machine retries these internally; they
// never escape EnsureEntry.
type TransientUIError struct {
	Location Location
	Reason   string
}

func (e *TransientUIError) Error() string {
	return fmt.Sprintf("transient ui failure at %s: %s", e.Location, e.Reason)
}

// AmbiguousContextError reports that a context-opening action raced with
// something else and more than one new context appeared. Picking one at
// random could drive the wrong surface, so the attempt is failed instead.
type AmbiguousContextError struct {
	Opened []session.ContextID
}

func (e *AmbiguousContextError) Error() string {
	return fmt.Sprintf("expected one new context, found %d", len(e.Opened))
}

// ExhaustedError reports that the attempt budget ran out before the
// delegation entry screen was confirmed. Last is the error from the
// final attempt; Brief, when available, is a short description of the
// page the session was left on.
type ExhaustedError struct {
	Attempts int
	Last     error
	Brief    string
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("delegation entry not reached after %d attempts: %v", e.Attempts, e.Last)
	if e.Brief != "" {
		msg += " (last screen: " + e.Brief + ")"
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Machine drives the recovery walk over a Session.
type Machine struct {
	sess    session.Session
	profile opale.Profile
	opts    Options
	logger  *zap.Logger
}

func New(sess session.Session, profile opale.Profile, opts Options, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{sess: sess, profile: profile, opts: opts.withDefaults(), logger: logger}
}

// EnsureEntry drives the session to the delegation entry screen. It
// retries the full walk up to the attempt budget, pausing between
// attempts, and stops early on fatal session errors or context
// cancellation. On exhaustion it returns an ExhaustedError wrapping the
// last attempt's failure.
func (m *Machine) EnsureEntry(ctx context.Context) error {
	n := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		n++
		err := m.attempt(ctx, n)
		if err == nil {
			return nil
		}
		if session.IsFatal(err) {
			return backoff.Permanent(err)
		}
		m.logger.Warn("recovery attempt failed",
			zap.Int("attempt", n),
			zap.Int("budget", m.opts.Attempts),
			zap.Error(err))
		return err
	}

	// WithMaxRetries treats a zero cap as unlimited, so a budget of one
	// needs the explicit stop policy.
	var pause backoff.BackOff = backoff.NewConstantBackOff(2 * m.opts.ActionDelay)
	if m.opts.Attempts > 1 {
		pause = backoff.WithMaxRetries(pause, uint64(m.opts.Attempts-1))
	} else {
		pause = &backoff.StopBackOff{}
	}
	err := backoff.Retry(op, backoff.WithContext(pause, ctx))
	if err == nil {
		return nil
	}
	if session.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	ex := &ExhaustedError{Attempts: n, Last: err}
	if brief, derr := session.Describe(ctx, m.sess); derr == nil {
		ex.Brief = brief.String()
	}
	return ex
}

// attempt runs one full recovery walk. Any error fails the attempt; the
// next attempt re-collapses the context set, so attempts are independent.
func (m *Machine) attempt(ctx context.Context, n int) error {
	loc := Unknown
	m.logger.Info("recovering delegation entry", zap.Int("attempt", n))

	// An error interstitial carries a dismiss link back to the portal.
	if el, ok, err := m.sess.FindIfPresent(ctx, m.profile.ErrorDismiss); err != nil {
		return err
	} else if ok {
		loc = ErrorScreen
		m.logger.Info("dismissing error screen", zap.Stringer("location", loc))
		if err := m.sess.Click(ctx, el); err != nil {
			return err
		}
		m.settle(ctx, 2)
	}

	// Collapse to the primal context so leftover popups from a failed
	// run cannot absorb the clicks below.
	ids, err := m.sess.Contexts(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return &session.FatalError{Err: errors.New("no open contexts")}
	}
	for _, id := range ids[1:] {
		if err := m.sess.CloseContext(ctx, id); err != nil {
			return err
		}
	}
	if err := m.sess.SwitchTo(ctx, ids[0]); err != nil {
		return err
	}
	m.settle(ctx, 1)

	url, err := m.sess.Location(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(url, m.profile.HomeMarker) {
		if err := m.sess.Navigate(ctx, m.profile.HomeURL); err != nil {
			return err
		}
		m.settle(ctx, 2)
	}
	loc = Home

	// Home -> service management, a context-opening click.
	id, err := m.openVia(ctx, loc, func() error {
		el, err := m.sess.WaitClickable(ctx, m.profile.ManageServices, m.opts.PageTimeout)
		if err != nil {
			return err
		}
		return m.sess.Click(ctx, el)
	})
	if err != nil {
		return err
	}
	if err := m.sess.SwitchTo(ctx, id); err != nil {
		return err
	}
	m.settle(ctx, 2)
	loc = ServiceManagement

	// Service management -> delegation entry, a scripted popup open.
	id, err = m.openVia(ctx, loc, func() error {
		return m.sess.OpenNamedContext(ctx, m.profile.PopupURL, m.profile.PopupName, m.profile.PopupGeometry)
	})
	if err != nil {
		return err
	}
	if err := m.sess.SwitchTo(ctx, id); err != nil {
		return err
	}
	m.settle(ctx, 1)

	if _, ok, err := m.sess.FindIfPresent(ctx, m.profile.ErrorDismiss); err != nil {
		return err
	} else if ok {
		return &TransientUIError{Location: loc, Reason: "error screen inside delegation context"}
	}

	if _, err := m.sess.WaitPresent(ctx, m.profile.SirenInput, m.opts.ConfirmTimeout); err != nil {
		return err
	}
	loc = DelegationEntry
	m.logger.Info("delegation entry reached", zap.Stringer("location", loc), zap.Int("attempt", n))
	return nil
}

// openVia runs a context-opening action and resolves the single context
// it created by diffing the open set before and after. Context creation
// is asynchronous and the new context's identity is unknown beforehand,
// so the set difference under a bounded wait is the only reliable
// detection.
func (m *Machine) openVia(ctx context.Context, loc Location, open func() error) (session.ContextID, error) {
	before, err := m.sess.Contexts(ctx)
	if err != nil {
		return "", err
	}
	if err := open(); err != nil {
		return "", err
	}
	m.settle(ctx, 3)

	seen := make(map[session.ContextID]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	poll := m.opts.PageTimeout / 10
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	if poll > 250*time.Millisecond {
		poll = 250 * time.Millisecond
	}
	deadline := time.Now().Add(m.opts.PageTimeout)
	for {
		ids, err := m.sess.Contexts(ctx)
		if err != nil {
			return "", err
		}
		var fresh []session.ContextID
		for _, id := range ids {
			if !seen[id] {
				fresh = append(fresh, id)
			}
		}
		switch {
		case len(fresh) == 1:
			return fresh[0], nil
		case len(fresh) > 1:
			return "", &AmbiguousContextError{Opened: fresh}
		}
		if time.Now().After(deadline) {
			m.logger.Warn("no new context appeared", zap.Stringer("from", loc))
			return "", &session.OpError{Op: "wait for new context", Err: session.ErrTimeout}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}
}

// settle pauses for a multiple of the action delay. The portal renders
// slowly after transitions; acting too early finds half-built pages.
func (m *Machine) settle(ctx context.Context, mult int) {
	d := time.Duration(mult) * m.opts.ActionDelay
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
