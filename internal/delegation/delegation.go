// Package delegation runs the per-identifier workflow: enter the SIREN,
// validate the subscriber, then walk the available services in catalog
// order, delegating each one. The pipeline always leaves the session on
// a fresh identifier entry screen so the next item can start immediately.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tmercier/delegatva/internal/opale"
	"github.com/tmercier/delegatva/internal/session"
)

// Navigator recovers the session to the delegation entry screen.
type Navigator interface {
	EnsureEntry(ctx context.Context) error
}

// Options carry the pacing knobs. Zero values take the defaults below.
type Options struct {
	ActionDelay time.Duration
	PageTimeout time.Duration
}

const (
	defaultActionDelay = time.Second
	defaultPageTimeout = 30 * time.Second

	// checkboxPause spaces out option toggles; the screen re-renders
	// after each one and a click mid-render is lost.
	checkboxPause = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.ActionDelay <= 0 {
		o.ActionDelay = defaultActionDelay
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}
	return o
}

// StepUnavailableError reports that a service listed as available had no
// activation link by the time it was attempted. The remaining steps for
// the identifier are skipped; the batch is not affected.
type StepUnavailableError struct {
	Label string
}

func (e *StepUnavailableError) Error() string {
	return fmt.Sprintf("service %q no longer offered on the services table", e.Label)
}

// Report describes what one Process call did for an identifier.
type Report struct {
	Siren     string
	Available []string
	Completed []string
	Skipped   []string
}

// Pipeline drives the delegation workflow for one identifier at a time.
type Pipeline struct {
	sess     session.Session
	nav      Navigator
	profile  opale.Profile
	services []opale.Service
	opts     Options
	logger   *zap.Logger
}

func New(sess session.Session, nav Navigator, profile opale.Profile, services []opale.Service, opts Options, logger *zap.Logger) *Pipeline {
	if services == nil {
		services = opale.DefaultServices()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sess:     sess,
		nav:      nav,
		profile:  profile,
		services: services,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Process delegates every available service for one identifier under the
// group's subscriber reference. It returns a non-nil Report even on
// error so callers can see how far the identifier got.
func (p *Pipeline) Process(ctx context.Context, siren, subscriber string) (*Report, error) {
	report := &Report{Siren: siren}
	log := p.logger.With(zap.String("siren", siren))
	log.Info("processing identifier")

	if err := p.ensureEntry(ctx); err != nil {
		return report, err
	}
	if err := p.enterSiren(ctx, siren); err != nil {
		return report, fmt.Errorf("enter identifier: %w", err)
	}
	if err := p.enterSubscriber(ctx, subscriber); err != nil {
		return report, fmt.Errorf("enter subscriber: %w", err)
	}

	available, err := p.detectAvailable(ctx)
	if err != nil {
		return report, err
	}
	for _, svc := range available {
		report.Available = append(report.Available, svc.Label)
	}
	log.Info("services offered", zap.Strings("available", report.Available))

	for i, svc := range available {
		err := p.delegate(ctx, svc)
		var su *StepUnavailableError
		if errors.As(err, &su) {
			// The table changed between detection and use. Skip what is
			// left; the terminal transition below keeps the session usable.
			for _, rest := range available[i:] {
				report.Skipped = append(report.Skipped, rest.Label)
			}
			log.Warn("service vanished, skipping the rest", zap.String("service", su.Label))
			break
		}
		if err != nil {
			return report, fmt.Errorf("delegate %q: %w", svc.Label, err)
		}
		report.Completed = append(report.Completed, svc.Label)
		log.Info("service delegated", zap.String("service", svc.Label))

		if i == len(available)-1 {
			break
		}
		if err := p.newDelegation(ctx); err != nil {
			return report, fmt.Errorf("new delegation: %w", err)
		}
		if err := p.enterSubscriber(ctx, subscriber); err != nil {
			return report, fmt.Errorf("re-enter subscriber: %w", err)
		}
	}

	if err := p.newSiren(ctx); err != nil {
		return report, fmt.Errorf("new identifier: %w", err)
	}
	return report, nil
}

// ensureEntry gets the session onto the identifier entry screen, trying
// the cheap paths before the full recovery walk: often the control is
// already there, or one direct navigation reaches it.
func (p *Pipeline) ensureEntry(ctx context.Context) error {
	if _, ok, err := p.sess.FindIfPresent(ctx, p.profile.SirenInput); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := p.sess.Navigate(ctx, p.profile.DelegationURL); err != nil {
		return err
	}
	p.settle(ctx, 2)
	if _, ok, err := p.sess.FindIfPresent(ctx, p.profile.SirenInput); err != nil {
		return err
	} else if ok {
		return nil
	}
	return p.nav.EnsureEntry(ctx)
}

func (p *Pipeline) enterSiren(ctx context.Context, siren string) error {
	el, err := p.sess.WaitPresent(ctx, p.profile.SirenInput, p.opts.PageTimeout)
	if err != nil {
		return err
	}
	if err := p.sess.Type(ctx, el, siren); err != nil {
		return err
	}
	p.settleHalf(ctx)
	// The search control is a javascript link, not a submit button.
	if err := p.sess.Eval(ctx, p.profile.SearchSubmit); err != nil {
		return err
	}
	p.settle(ctx, 2)
	return nil
}

func (p *Pipeline) enterSubscriber(ctx context.Context, subscriber string) error {
	el, err := p.sess.WaitPresent(ctx, p.profile.SubscriberInput, p.opts.PageTimeout)
	if err != nil {
		return err
	}
	if err := p.sess.Type(ctx, el, subscriber); err != nil {
		return err
	}
	p.settleHalf(ctx)
	submit, err := p.sess.WaitClickable(ctx, p.profile.ValidateSubmit, p.opts.PageTimeout)
	if err != nil {
		return err
	}
	if err := p.sess.Click(ctx, submit); err != nil {
		return err
	}
	p.settle(ctx, 1)
	return nil
}

// detectAvailable recomputes which catalog services the portal offers
// for the identifier on screen. Availability differs per entity, so the
// fixed catalog is only an ordering, never an assumption.
func (p *Pipeline) detectAvailable(ctx context.Context) ([]opale.Service, error) {
	var available []opale.Service
	for _, svc := range p.services {
		_, ok, err := p.sess.FindIfPresent(ctx, p.profile.ServiceLink(svc.Label))
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, svc)
		}
	}
	return available, nil
}

// delegate runs one service's screen: activate, pick the acting-party
// role when offered, enable options when the service calls for it, and
// validate.
func (p *Pipeline) delegate(ctx context.Context, svc opale.Service) error {
	el, ok, err := p.sess.FindIfPresent(ctx, p.profile.ServiceLink(svc.Label))
	if err != nil {
		return err
	}
	if !ok {
		return &StepUnavailableError{Label: svc.Label}
	}
	if err := p.sess.Click(ctx, el); err != nil {
		return err
	}
	p.settle(ctx, 2)

	if err := p.selectActingRole(ctx); err != nil {
		return err
	}
	if svc.CheckAll {
		if err := p.enableAllOptions(ctx); err != nil {
			return err
		}
	}
	return p.validate(ctx)
}

// selectActingRole picks the acting-party radio when the screen offers
// one. Many service screens have no role selector at all; that is an
// ordinary outcome, not an error.
func (p *Pipeline) selectActingRole(ctx context.Context) error {
	radios, err := p.sess.FindAll(ctx, p.profile.RoleRadios)
	if err != nil {
		return err
	}
	for _, radio := range radios {
		name, err := p.sess.Attr(ctx, radio, "name")
		if err != nil {
			return err
		}
		if !strings.HasPrefix(name, p.profile.RoleNamePrefix) {
			continue
		}
		selected, err := p.sess.IsSelected(ctx, radio)
		if err != nil {
			return err
		}
		if !selected {
			if err := p.sess.Click(ctx, radio); err != nil {
				return err
			}
			p.settleHalf(ctx)
		}
		return nil
	}
	return nil
}

// enableAllOptions toggles every option checkbox not already active.
// Already-active boxes are left alone, so re-running on a fully toggled
// screen performs no clicks.
func (p *Pipeline) enableAllOptions(ctx context.Context) error {
	boxes, err := p.sess.FindAll(ctx, p.profile.OptionToggles)
	if err != nil {
		return err
	}
	for _, box := range boxes {
		selected, err := p.sess.IsSelected(ctx, box)
		if err != nil {
			return err
		}
		if selected {
			continue
		}
		if err := p.sess.Click(ctx, box); err != nil {
			return err
		}
		p.pause(ctx, checkboxPause)
	}
	p.settleHalf(ctx)
	return nil
}

// validate submits the delegation screen. The portal renders the button
// two different ways depending on the service; a screen with neither
// variant is unusable and escalates.
func (p *Pipeline) validate(ctx context.Context) error {
	el, ok, err := p.sess.FindIfPresent(ctx, p.profile.ValidateSubmit)
	if err != nil {
		return err
	}
	if !ok {
		el, ok, err = p.sess.FindIfPresent(ctx, p.profile.ValidateFallback)
		if err != nil {
			return err
		}
	}
	if !ok {
		return &session.OpError{Op: "validate", Sel: p.profile.ValidateSubmit, Err: session.ErrNotFound}
	}
	if err := p.sess.Click(ctx, el); err != nil {
		return err
	}
	p.settle(ctx, 1)
	return nil
}

func (p *Pipeline) newDelegation(ctx context.Context) error {
	el, err := p.sess.WaitClickable(ctx, p.profile.NewDelegation, p.opts.PageTimeout)
	if err != nil {
		return err
	}
	if err := p.sess.Click(ctx, el); err != nil {
		return err
	}
	p.settle(ctx, 2)
	return nil
}

func (p *Pipeline) newSiren(ctx context.Context) error {
	el, err := p.sess.WaitClickable(ctx, p.profile.NewSiren, p.opts.PageTimeout)
	if err != nil {
		return err
	}
	if err := p.sess.Click(ctx, el); err != nil {
		return err
	}
	p.settle(ctx, 1)
	return nil
}

func (p *Pipeline) settle(ctx context.Context, mult int) {
	p.pause(ctx, time.Duration(mult)*p.opts.ActionDelay)
}

func (p *Pipeline) settleHalf(ctx context.Context) {
	p.pause(ctx, p.opts.ActionDelay/2)
}

func (p *Pipeline) pause(ctx context.Context, d time.Duration) {
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
