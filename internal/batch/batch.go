// Package batch sequences work groups and identifiers. It owns the
// checkpoint lifecycle (write before work, clear on completion), applies
// the one-retry policy with the operator, and reports progress.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tmercier/delegatva/internal/catalog"
	"github.com/tmercier/delegatva/internal/checkpoint"
	"github.com/tmercier/delegatva/internal/console"
	"github.com/tmercier/delegatva/internal/delegation"
	"github.com/tmercier/delegatva/internal/journal"
	"github.com/tmercier/delegatva/internal/notify"
	"github.com/tmercier/delegatva/internal/session"
)

// ErrAborted reports that the operator chose to quit mid-group. The
// checkpoint is left pointing at the failing identifier.
var ErrAborted = errors.New("run aborted by operator")

// Processor runs the delegation pipeline for one identifier.
type Processor interface {
	Process(ctx context.Context, siren, subscriber string) (*delegation.Report, error)
}

// Recorder journals entity outcomes. The batch never fails on recording.
type Recorder interface {
	Record(group, siren string, index int, status, detail string)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, string, int, string, string) {}

// GroupResult counts what happened to one group.
type GroupResult struct {
	Group   string
	Total   int
	Done    int
	Skipped int
}

// Summary aggregates the per-group results of one run.
type Summary struct {
	Groups []GroupResult
}

// Orchestrator wires the checkpoint store, the pipeline and the operator
// surfaces together. Store and Proc are required; the rest default to
// inert implementations.
type Orchestrator struct {
	Store    *checkpoint.Store
	Proc     Processor
	Prompt   console.Prompter
	Display  *console.Console
	Recorder Recorder
	Notifier notify.Notifier
	Logger   *zap.Logger
}

func (o *Orchestrator) ensureDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Noop{}
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}
	if o.Display == nil {
		o.Display = console.New()
	}
	if o.Prompt == nil {
		o.Prompt = o.Display
	}
}

// Run processes the given groups in order, stopping at the first group
// that fails or is aborted.
func (o *Orchestrator) Run(ctx context.Context, groups []catalog.Group) (Summary, error) {
	o.ensureDefaults()
	var sum Summary
	for _, g := range groups {
		res, err := o.RunGroup(ctx, g)
		sum.Groups = append(sum.Groups, res)
		if err != nil {
			return sum, err
		}
	}
	o.Notifier.BatchDone(len(sum.Groups))
	return sum, nil
}

// RunGroup processes one group from its checkpoint. The checkpoint is
// saved before each identifier runs, so a crash at any point resumes at
// the identifier that was in flight, and cleared only when the whole
// group completes.
func (o *Orchestrator) RunGroup(ctx context.Context, group catalog.Group) (GroupResult, error) {
	o.ensureDefaults()
	res := GroupResult{Group: group.Name, Total: len(group.Sirens)}
	log := o.Logger.With(zap.String("group", group.Name))

	if len(group.Sirens) > 0 && group.Subscriber == "" {
		return res, fmt.Errorf("group %s has no subscriber reference", group.Name)
	}

	pos, err := o.Store.Load(group.Name)
	if err != nil {
		return res, err
	}
	start := pos.NextIndex
	if start > len(group.Sirens) {
		log.Warn("checkpoint beyond group end, treating group as done",
			zap.Int("next_index", start), zap.Int("items", len(group.Sirens)))
		start = len(group.Sirens)
	}
	if start > 0 && start < len(group.Sirens) {
		msg := fmt.Sprintf("Reprendre %s à l'identifiant %d/%d ?", group.Name, start+1, len(group.Sirens))
		resume, err := o.Prompt.Confirm(msg)
		if err != nil {
			return res, err
		}
		if !resume {
			if err := o.Store.Clear(group.Name); err != nil {
				return res, err
			}
			start = 0
		}
	}

	o.Display.GroupHeader(group.Name, len(group.Sirens))

	for i := start; i < len(group.Sirens); i++ {
		if err := ctx.Err(); err != nil {
			log.Info("interrupted, checkpoint kept", zap.Int("next_index", i))
			return res, err
		}
		siren := string(group.Sirens[i])
		if err := o.Store.Save(group.Name, i); err != nil {
			return res, fmt.Errorf("save checkpoint: %w", err)
		}
		status, err := o.runItem(ctx, group, i, siren)
		if err != nil {
			return res, err
		}
		if status == journal.StatusSkipped {
			res.Skipped++
		} else {
			res.Done++
		}
		o.Display.Progress(i+1, len(group.Sirens))
	}

	if err := o.Store.Clear(group.Name); err != nil {
		log.Warn("could not clear checkpoint", zap.Error(err))
	}
	o.Notifier.GroupDone(group.Name, res.Done, res.Skipped)
	log.Info("group finished", zap.Int("done", res.Done), zap.Int("skipped", res.Skipped))
	return res, nil
}

// runItem runs one identifier with the retry policy: fatal failures
// abort immediately, anything else is offered to the operator once as
// retry/skip/quit, and a failed retry skips without asking again.
func (o *Orchestrator) runItem(ctx context.Context, group catalog.Group, index int, siren string) (string, error) {
	report, err := o.Proc.Process(ctx, siren, group.Subscriber)
	if err == nil {
		o.Recorder.Record(group.Name, siren, index, journal.StatusDone, reportDetail(report))
		return journal.StatusDone, nil
	}
	if abort := o.checkAbort(group, siren, index, err); abort != nil {
		return "", abort
	}

	o.Display.Failf("Échec sur %s : %v", siren, err)
	choice, perr := o.Prompt.Choose("Réessayer, ignorer ou quitter ?", 'r', 's', 'q')
	if perr != nil {
		return "", perr
	}
	switch choice {
	case 'q':
		o.Recorder.Record(group.Name, siren, index, journal.StatusAborted, "operator quit: "+err.Error())
		return "", ErrAborted
	case 's':
		o.Recorder.Record(group.Name, siren, index, journal.StatusSkipped, err.Error())
		return journal.StatusSkipped, nil
	}

	report, rerr := o.Proc.Process(ctx, siren, group.Subscriber)
	if rerr == nil {
		o.Recorder.Record(group.Name, siren, index, journal.StatusRetried, reportDetail(report))
		return journal.StatusRetried, nil
	}
	if abort := o.checkAbort(group, siren, index, rerr); abort != nil {
		return "", abort
	}
	o.Display.Failf("Nouvel échec sur %s, identifiant ignoré : %v", siren, rerr)
	o.Recorder.Record(group.Name, siren, index, journal.StatusSkipped, rerr.Error())
	return journal.StatusSkipped, nil
}

// checkAbort classifies errors no retry can help: a dead session or a
// cancelled run. These abort the group with the checkpoint intact.
func (o *Orchestrator) checkAbort(group catalog.Group, siren string, index int, err error) error {
	if !session.IsFatal(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	o.Recorder.Record(group.Name, siren, index, journal.StatusAborted, err.Error())
	o.Notifier.RunAborted(group.Name, siren, err.Error())
	o.Logger.Error("run aborted",
		zap.String("group", group.Name),
		zap.String("siren", siren),
		zap.Error(err))
	return err
}

func reportDetail(r *delegation.Report) string {
	if r == nil {
		return ""
	}
	detail := fmt.Sprintf("%d/%d services", len(r.Completed), len(r.Available))
	if len(r.Skipped) > 0 {
		detail += ", skipped: " + strings.Join(r.Skipped, ",")
	}
	return detail
}
