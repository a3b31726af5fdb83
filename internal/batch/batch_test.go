package batch

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tmercier/delegatva/internal/catalog"
	"github.com/tmercier/delegatva/internal/checkpoint"
	"github.com/tmercier/delegatva/internal/console"
	"github.com/tmercier/delegatva/internal/delegation"
	"github.com/tmercier/delegatva/internal/journal"
	"github.com/tmercier/delegatva/internal/session"
)

type stubProcessor struct {
	calls  []string
	errs   map[string][]error
	onCall func(siren string)
}

func (s *stubProcessor) Process(ctx context.Context, siren, subscriber string) (*delegation.Report, error) {
	s.calls = append(s.calls, siren)
	if s.onCall != nil {
		s.onCall(siren)
	}
	if q := s.errs[siren]; len(q) > 0 {
		err := q[0]
		s.errs[siren] = q[1:]
		return &delegation.Report{Siren: siren}, err
	}
	return &delegation.Report{
		Siren:     siren,
		Available: []string{"Messagerie"},
		Completed: []string{"Messagerie"},
	}, nil
}

type stubPrompt struct {
	confirms     []bool
	choices      []rune
	confirmCalls int
	chooseCalls  int
}

func (p *stubPrompt) Confirm(msg string) (bool, error) {
	p.confirmCalls++
	if len(p.confirms) == 0 {
		return true, nil
	}
	v := p.confirms[0]
	p.confirms = p.confirms[1:]
	return v, nil
}

func (p *stubPrompt) Choose(msg string, opts ...rune) (rune, error) {
	p.chooseCalls++
	if len(p.choices) == 0 {
		return 's', nil
	}
	v := p.choices[0]
	p.choices = p.choices[1:]
	return v, nil
}

func (p *stubPrompt) Pause(msg string) error { return nil }

type recorded struct {
	siren  string
	index  int
	status string
}

type stubRecorder struct {
	entries []recorded
}

func (r *stubRecorder) Record(group, siren string, index int, status, detail string) {
	r.entries = append(r.entries, recorded{siren: siren, index: index, status: status})
}

func (r *stubRecorder) statusOf(siren string) string {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].siren == siren {
			return r.entries[i].status
		}
	}
	return ""
}

type stubNotify struct {
	groupDone int
	aborted   int
	batches   []int
}

func (n *stubNotify) GroupDone(string, int, int)        { n.groupDone++ }
func (n *stubNotify) RunAborted(string, string, string) { n.aborted++ }
func (n *stubNotify) BatchDone(groups int)              { n.batches = append(n.batches, groups) }

func testGroup() catalog.Group {
	return catalog.Group{
		Name:       "TVA 3",
		Subscriber: "20260410001818",
		Sirens:     []catalog.Siren{"000000001", "000000002", "000000003"},
	}
}

func newOrch(t *testing.T, proc Processor, prompt console.Prompter) (*Orchestrator, *stubRecorder, *stubNotify) {
	t.Helper()
	rec := &stubRecorder{}
	not := &stubNotify{}
	o := &Orchestrator{
		Store:    checkpoint.NewStore(t.TempDir()),
		Proc:     proc,
		Prompt:   prompt,
		Display:  console.NewWithIO(strings.NewReader(""), io.Discard),
		Recorder: rec,
		Notifier: not,
		Logger:   zaptest.NewLogger(t),
	}
	return o, rec, not
}

func TestRunGroupHappyPath(t *testing.T) {
	proc := &stubProcessor{}
	o, rec, not := newOrch(t, proc, &stubPrompt{})

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, GroupResult{Group: "TVA 3", Total: 3, Done: 3}, res)

	// Each identifier ran exactly once.
	require.Equal(t, []string{"000000001", "000000002", "000000003"}, proc.calls)

	// The checkpoint is gone after completion.
	_, err = os.Stat(o.Store.Path("TVA 3"))
	require.True(t, os.IsNotExist(err))

	require.Len(t, rec.entries, 3)
	for _, e := range rec.entries {
		require.Equal(t, journal.StatusDone, e.status)
	}
	require.Equal(t, 1, not.groupDone)
}

func TestCheckpointWrittenBeforeWork(t *testing.T) {
	proc := &stubProcessor{}
	o, _, _ := newOrch(t, proc, &stubPrompt{})

	var seen []int
	proc.onCall = func(string) {
		pos, err := o.Store.Load("TVA 3")
		require.NoError(t, err)
		seen = append(seen, pos.NextIndex)
	}

	_, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)

	// While item i is in flight, the persisted next_index is i: a crash
	// at any point re-processes the in-flight item, never skips it.
	require.Equal(t, []int{0, 1, 2}, seen)
}

func TestResumeFromCheckpoint(t *testing.T) {
	proc := &stubProcessor{}
	prompt := &stubPrompt{confirms: []bool{true}}
	o, _, _ := newOrch(t, proc, prompt)
	require.NoError(t, o.Store.Save("TVA 3", 1))

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, 1, prompt.confirmCalls)
	require.Equal(t, []string{"000000002", "000000003"}, proc.calls)
	require.Equal(t, 2, res.Done)
}

func TestDeclineResumeRestartsFromZero(t *testing.T) {
	proc := &stubProcessor{}
	prompt := &stubPrompt{confirms: []bool{false}}
	o, _, _ := newOrch(t, proc, prompt)
	require.NoError(t, o.Store.Save("TVA 3", 2))

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, []string{"000000001", "000000002", "000000003"}, proc.calls)
	require.Equal(t, 3, res.Done)
}

func TestRetrySucceeds(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {errors.New("delegation entry not reached")},
	}}
	prompt := &stubPrompt{choices: []rune{'r'}}
	o, rec, _ := newOrch(t, proc, prompt)

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, []string{"000000001", "000000002", "000000002", "000000003"}, proc.calls)
	require.Equal(t, 3, res.Done)
	require.Equal(t, 0, res.Skipped)
	require.Equal(t, journal.StatusRetried, rec.statusOf("000000002"))
}

func TestRetryFailsThenSkipsWithoutAsking(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {errors.New("first failure"), errors.New("second failure")},
	}}
	prompt := &stubPrompt{choices: []rune{'r'}}
	o, rec, _ := newOrch(t, proc, prompt)

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, 1, prompt.chooseCalls, "a failed retry skips, no second prompt")
	require.Len(t, proc.calls, 4)
	require.Equal(t, 2, res.Done)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, journal.StatusSkipped, rec.statusOf("000000002"))

	// A skipped identifier is behind the checkpoint: nothing remains.
	_, err = os.Stat(o.Store.Path("TVA 3"))
	require.True(t, os.IsNotExist(err))
}

func TestSkipChoice(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {errors.New("boom")},
	}}
	prompt := &stubPrompt{choices: []rune{'s'}}
	o, rec, _ := newOrch(t, proc, prompt)

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, []string{"000000001", "000000002", "000000003"}, proc.calls)
	require.Equal(t, 2, res.Done)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, journal.StatusSkipped, rec.statusOf("000000002"))
}

func TestQuitKeepsCheckpointAtFailingItem(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {errors.New("boom")},
	}}
	prompt := &stubPrompt{choices: []rune{'q'}}
	o, rec, not := newOrch(t, proc, prompt)

	res, err := o.RunGroup(context.Background(), testGroup())
	require.ErrorIs(t, err, ErrAborted)
	require.Equal(t, 1, res.Done)

	pos, lerr := o.Store.Load("TVA 3")
	require.NoError(t, lerr)
	require.Equal(t, 1, pos.NextIndex, "resume lands on the identifier that failed")

	require.Equal(t, journal.StatusAborted, rec.statusOf("000000002"))
	require.Equal(t, 0, not.groupDone)
	require.Equal(t, 0, not.aborted, "operator quit is not a session abort")
}

func TestFatalAbortsWithoutPrompting(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {&session.FatalError{Err: errors.New("browser gone")}},
	}}
	prompt := &stubPrompt{}
	o, rec, not := newOrch(t, proc, prompt)

	_, err := o.RunGroup(context.Background(), testGroup())
	require.Error(t, err)
	require.True(t, session.IsFatal(err))
	require.Equal(t, 0, prompt.chooseCalls)
	require.Equal(t, 1, not.aborted)
	require.Equal(t, journal.StatusAborted, rec.statusOf("000000002"))

	pos, lerr := o.Store.Load("TVA 3")
	require.NoError(t, lerr)
	require.Equal(t, 1, pos.NextIndex)
}

func TestCancellationKeepsCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &stubProcessor{}
	proc.onCall = func(siren string) {
		if siren == "000000002" {
			cancel()
		}
	}
	o, _, _ := newOrch(t, proc, &stubPrompt{})

	res, err := o.RunGroup(ctx, testGroup())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, res.Done)

	pos, lerr := o.Store.Load("TVA 3")
	require.NoError(t, lerr)
	require.Equal(t, 1, pos.NextIndex)
}

func TestCheckpointBeyondEndTreatedAsDone(t *testing.T) {
	proc := &stubProcessor{}
	prompt := &stubPrompt{}
	o, _, _ := newOrch(t, proc, prompt)
	require.NoError(t, o.Store.Save("TVA 3", 99))

	res, err := o.RunGroup(context.Background(), testGroup())
	require.NoError(t, err)
	require.Equal(t, 0, prompt.confirmCalls)
	require.Empty(t, proc.calls)
	require.Equal(t, 0, res.Done)

	_, err = os.Stat(o.Store.Path("TVA 3"))
	require.True(t, os.IsNotExist(err))
}

func TestMissingSubscriberRejected(t *testing.T) {
	proc := &stubProcessor{}
	o, _, _ := newOrch(t, proc, &stubPrompt{})
	group := testGroup()
	group.Subscriber = ""

	_, err := o.RunGroup(context.Background(), group)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no subscriber reference")
	require.Empty(t, proc.calls)
}

func TestRunStopsAfterAbort(t *testing.T) {
	proc := &stubProcessor{errs: map[string][]error{
		"000000002": {errors.New("boom")},
	}}
	prompt := &stubPrompt{choices: []rune{'q'}}
	o, _, not := newOrch(t, proc, prompt)

	second := catalog.Group{Name: "TVA 4", Subscriber: "1111", Sirens: []catalog.Siren{"000000009"}}
	sum, err := o.Run(context.Background(), []catalog.Group{testGroup(), second})
	require.ErrorIs(t, err, ErrAborted)
	require.Len(t, sum.Groups, 1)
	require.NotContains(t, proc.calls, "000000009")
	require.Empty(t, not.batches)
}

func TestRunNotifiesBatchDone(t *testing.T) {
	proc := &stubProcessor{}
	o, _, not := newOrch(t, proc, &stubPrompt{})

	second := catalog.Group{Name: "TVA 4", Subscriber: "1111", Sirens: []catalog.Siren{"000000009"}}
	sum, err := o.Run(context.Background(), []catalog.Group{testGroup(), second})
	require.NoError(t, err)
	require.Len(t, sum.Groups, 2)
	require.Equal(t, []int{2}, not.batches)
	require.Equal(t, 2, not.groupDone)
}
