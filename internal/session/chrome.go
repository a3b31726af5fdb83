package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeOptions configures the browser process.
type ChromeOptions struct {
	Headless bool
	// OpTimeout bounds every non-wait operation. Zero means 60s.
	OpTimeout time.Duration
}

// Chrome drives a Chrome browser over the devtools protocol. It keeps
// one attached context per open tab and an explicit notion of which tab
// subsequent calls target, mirroring the single-focus model of the
// Session interface.
type Chrome struct {
	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[target.ID]*chromeTab
	primary       target.ID
	current       target.ID
	opTimeout     time.Duration
	logger        *zap.Logger
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type chromeElement struct {
	node *cdp.Node
}

// StartChrome launches the browser and attaches to its first tab.
func StartChrome(ctx context.Context, opts ChromeOptions, logger *zap.Logger) (*Chrome, error) {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	opTimeout := opts.OpTimeout
	if opTimeout == 0 {
		opTimeout = 60 * time.Second
	}

	c := &Chrome{
		tabs:      make(map[target.ID]*chromeTab),
		opTimeout: opTimeout,
		logger:    logger,
	}
	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	id := chromedp.FromContext(c.browserCtx).Target.TargetID
	c.tabs[id] = &chromeTab{ctx: c.browserCtx, cancel: c.browserCancel}
	c.primary = id
	c.current = id
	logger.Info("browser started", zap.Bool("headless", opts.Headless))
	return c, nil
}

// Close tears down every attached tab and the browser process.
func (c *Chrome) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.tabs {
		if id != c.primary && t.cancel != nil {
			t.cancel()
		}
	}
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.tabs = make(map[target.ID]*chromeTab)
}

// fatal wraps err as a FatalError when the browser is gone, so that the
// batch stops instead of burning its retry budget on a dead session.
func (c *Chrome) fatal(err error) error {
	if err == nil {
		return nil
	}
	if c.browserCtx.Err() != nil {
		return &FatalError{Err: err}
	}
	return err
}

func (c *Chrome) tab() (*chromeTab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[c.current]
	if !ok {
		return nil, &FatalError{Err: fmt.Errorf("current context %s is gone", c.current)}
	}
	return t, nil
}

// run executes actions against the current tab under the op timeout.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	t, err := c.tab()
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(t.ctx, c.opTimeout)
	defer cancel()
	stop := propagate(ctx, cancel)
	defer stop()
	return c.fatal(chromedp.Run(opCtx, actions...))
}

// propagate cancels a chromedp context when the caller's context ends.
// chromedp contexts descend from the browser, not from the caller, so
// operator interrupts have to be forwarded by hand.
func propagate(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func byOption(sel Selector, all bool) chromedp.QueryOption {
	if sel.By == ByXPath {
		return chromedp.BySearch
	}
	if all {
		return chromedp.ByQueryAll
	}
	return chromedp.ByQuery
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Chrome) Contexts(ctx context.Context) ([]ContextID, error) {
	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, c.fatal(err)
	}
	var rest []string
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if info.TargetID == c.primary {
			continue
		}
		rest = append(rest, string(info.TargetID))
	}
	sort.Strings(rest)
	ids := []ContextID{ContextID(c.primary)}
	for _, id := range rest {
		ids = append(ids, ContextID(id))
	}
	return ids, nil
}

func (c *Chrome) attach(id target.ID) *chromeTab {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tabs[id]; ok {
		return t
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(id))
	t := &chromeTab{ctx: tabCtx, cancel: cancel}
	c.tabs[id] = t
	return t
}

func (c *Chrome) SwitchTo(ctx context.Context, id ContextID) error {
	t := c.attach(target.ID(id))
	// Force the attach now so a vanished target fails here, not on the
	// next unrelated call.
	opCtx, cancel := context.WithTimeout(t.ctx, c.opTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		return c.fatal(fmt.Errorf("switch to context %s: %w", id, err))
	}
	c.mu.Lock()
	c.current = target.ID(id)
	c.mu.Unlock()
	return nil
}

func (c *Chrome) CloseContext(ctx context.Context, id ContextID) error {
	t := c.attach(target.ID(id))
	opCtx, cancel := context.WithTimeout(t.ctx, c.opTimeout)
	err := chromedp.Run(opCtx, page.Close())
	cancel()
	if err != nil {
		return c.fatal(fmt.Errorf("close context %s: %w", id, err))
	}
	c.mu.Lock()
	if t.cancel != nil && target.ID(id) != c.primary {
		t.cancel()
	}
	delete(c.tabs, target.ID(id))
	if c.current == target.ID(id) {
		c.current = c.primary
	}
	c.mu.Unlock()
	return nil
}

func (c *Chrome) OpenNamedContext(ctx context.Context, url, name, geometry string) error {
	script := fmt.Sprintf("window.open(%q, %q, %q);", url, name, geometry)
	return c.Eval(ctx, script)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return &OpError{Op: "navigate to " + url, Err: err}
	}
	return nil
}

func (c *Chrome) Eval(ctx context.Context, script string) error {
	if err := c.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return &OpError{Op: "evaluate script", Err: err}
	}
	return nil
}

func (c *Chrome) FindIfPresent(ctx context.Context, sel Selector) (Element, bool, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(sel.Value, &nodes, byOption(sel, true), chromedp.AtLeast(0)))
	if err != nil {
		return Element{}, false, &OpError{Op: "find", Sel: sel, Err: err}
	}
	if len(nodes) == 0 {
		return Element{}, false, nil
	}
	return MakeElement(&chromeElement{node: nodes[0]}), true, nil
}

func (c *Chrome) FindAll(ctx context.Context, sel Selector) ([]Element, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(sel.Value, &nodes, byOption(sel, true), chromedp.AtLeast(0)))
	if err != nil {
		return nil, &OpError{Op: "find all", Sel: sel, Err: err}
	}
	els := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, MakeElement(&chromeElement{node: n}))
	}
	return els, nil
}

func (c *Chrome) wait(ctx context.Context, op string, sel Selector, timeout time.Duration, conditions ...chromedp.Action) (Element, error) {
	t, err := c.tab()
	if err != nil {
		return Element{}, err
	}
	waitCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := propagate(ctx, cancel)
	defer stop()

	if err := chromedp.Run(waitCtx, conditions...); err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			err = ErrTimeout
		}
		return Element{}, &OpError{Op: op, Sel: sel, Err: c.fatal(err)}
	}
	var nodes []*cdp.Node
	if err := chromedp.Run(waitCtx, chromedp.Nodes(sel.Value, &nodes, byOption(sel, true), chromedp.AtLeast(0))); err != nil || len(nodes) == 0 {
		if err == nil {
			err = ErrNotFound
		}
		return Element{}, &OpError{Op: op, Sel: sel, Err: c.fatal(err)}
	}
	return MakeElement(&chromeElement{node: nodes[0]}), nil
}

func (c *Chrome) WaitPresent(ctx context.Context, sel Selector, timeout time.Duration) (Element, error) {
	return c.wait(ctx, "wait present", sel, timeout,
		chromedp.WaitReady(sel.Value, byOption(sel, false)))
}

func (c *Chrome) WaitClickable(ctx context.Context, sel Selector, timeout time.Duration) (Element, error) {
	return c.wait(ctx, "wait clickable", sel, timeout,
		chromedp.WaitVisible(sel.Value, byOption(sel, false)),
		chromedp.WaitEnabled(sel.Value, byOption(sel, false)))
}

func unwrapNode(el Element) (*cdp.Node, error) {
	ce, ok := el.Ref().(*chromeElement)
	if !ok || ce.node == nil {
		return nil, fmt.Errorf("element does not belong to this session")
	}
	return ce.node, nil
}

func (c *Chrome) Click(ctx context.Context, el Element) error {
	node, err := unwrapNode(el)
	if err != nil {
		return err
	}
	if err := c.run(ctx, chromedp.MouseClickNode(node)); err != nil {
		return &OpError{Op: "click", Err: err}
	}
	return nil
}

func (c *Chrome) Type(ctx context.Context, el Element, text string) error {
	node, err := unwrapNode(el)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	err = c.run(ctx,
		chromedp.Clear(ids, chromedp.ByNodeID),
		chromedp.SendKeys(ids, text, chromedp.ByNodeID))
	if err != nil {
		return &OpError{Op: "type", Err: err}
	}
	return nil
}

func (c *Chrome) IsSelected(ctx context.Context, el Element) (bool, error) {
	node, err := unwrapNode(el)
	if err != nil {
		return false, err
	}
	var checked bool
	err = c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(cctx)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn("function() { return !!this.checked; }").
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("checked probe failed: %s", exc.Text)
		}
		return json.Unmarshal(res.Value, &checked)
	}))
	if err != nil {
		return false, &OpError{Op: "read selected state", Err: err}
	}
	return checked, nil
}

func (c *Chrome) Attr(ctx context.Context, el Element, name string) (string, error) {
	node, err := unwrapNode(el)
	if err != nil {
		return "", err
	}
	var value string
	err = c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		attrs, err := dom.GetAttributes(node.NodeID).Do(cctx)
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(attrs); i += 2 {
			if attrs[i] == name {
				value = attrs[i+1]
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return "", &OpError{Op: "read attribute " + name, Err: err}
	}
	return value, nil
}

func (c *Chrome) Source(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		node, err := dom.GetDocument().Do(cctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(cctx)
		return err
	}))
	if err != nil {
		return "", &OpError{Op: "capture page source", Err: err}
	}
	return html, nil
}
