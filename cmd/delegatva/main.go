package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tmercier/delegatva/internal/batch"
	"github.com/tmercier/delegatva/internal/catalog"
	"github.com/tmercier/delegatva/internal/checkpoint"
	"github.com/tmercier/delegatva/internal/console"
	"github.com/tmercier/delegatva/internal/delegation"
	"github.com/tmercier/delegatva/internal/journal"
	"github.com/tmercier/delegatva/internal/logging"
	"github.com/tmercier/delegatva/internal/navigation"
	"github.com/tmercier/delegatva/internal/notify"
	"github.com/tmercier/delegatva/internal/opale"
	"github.com/tmercier/delegatva/internal/session"
	"github.com/tmercier/delegatva/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	headless := flag.Bool("headless", false, "run the browser headless (the portal session must already be authenticated)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *headless {
		cfg.Chrome.Headless = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := console.New()
	ui.Banner()

	profile := opale.DefaultProfile(cfg.BaseURL)

	src := &catalog.XLSXSource{
		Path:           cfg.Workbook.Path,
		Sheets:         cfg.Workbook.Sheets,
		SubscriberCell: cfg.Workbook.SubscriberCell,
		IDColumn:       cfg.Workbook.IDColumn,
		FirstDataRow:   cfg.Workbook.FirstDataRow,
		Logger:         logger,
	}
	wb, err := src.Load(ctx)
	if err != nil {
		log.Fatalf("failed to read the workbook: %v", err)
	}
	for _, d := range wb.Diagnostics {
		ui.Failf("Ignoré : %s", d)
	}

	store := checkpoint.NewStore(cfg.ProgressDir)

	options := make([]console.GroupOption, len(wb.Groups))
	for i, g := range wb.Groups {
		pos, err := store.Load(g.Name)
		if err != nil {
			logger.Warn("unreadable checkpoint", zap.String("group", g.Name), zap.Error(err))
		}
		options[i] = console.GroupOption{Name: g.Name, Items: len(g.Sirens), Resume: pos.NextIndex}
	}
	picked, err := ui.SelectGroups(options)
	if err != nil {
		log.Fatal(err)
	}
	if len(picked) == 0 {
		ui.Infof("Aucune feuille sélectionnée.")
		return
	}
	groups := make([]catalog.Group, 0, len(picked))
	for _, i := range picked {
		groups = append(groups, wb.Groups[i])
	}

	jnl, err := journal.Open(cfg.JournalPath, logger)
	if err != nil {
		log.Fatalf("failed to open the journal: %v", err)
	}
	defer jnl.Close()
	logger.Info("run registered", zap.String("run_id", jnl.RunID()))

	notifier := buildNotifier(cfg, logger)

	chrome, err := session.StartChrome(ctx, session.ChromeOptions{
		Headless:  cfg.Chrome.Headless,
		OpTimeout: cfg.Timing.PageTimeout(),
	}, logger)
	if err != nil {
		log.Fatalf("failed to start the browser: %v", err)
	}
	defer chrome.Close()

	if err := chrome.Navigate(ctx, profile.BaseURL); err != nil {
		log.Fatalf("failed to open the portal: %v", err)
	}

	// Authentication stays manual: the operator logs in, then hands the
	// session back.
	if err := ui.Pause("Connectez-vous sur le portail puis appuyez sur Entrée... "); err != nil {
		log.Fatal(err)
	}

	machine := navigation.New(chrome, profile, navigation.Options{
		Attempts:       cfg.Timing.NavAttempts,
		ActionDelay:    cfg.Timing.ActionDelay(),
		PageTimeout:    cfg.Timing.PageTimeout(),
		ConfirmTimeout: cfg.Timing.ConfirmTimeout(),
	}, logger)

	pipeline := delegation.New(chrome, machine, profile, services(cfg), delegation.Options{
		ActionDelay: cfg.Timing.ActionDelay(),
		PageTimeout: cfg.Timing.PageTimeout(),
	}, logger)

	orch := &batch.Orchestrator{
		Store:    store,
		Proc:     pipeline,
		Prompt:   ui,
		Display:  ui,
		Recorder: jnl,
		Notifier: notifier,
		Logger:   logger,
	}

	summary, err := orch.Run(ctx, groups)
	printSummary(ui, summary)
	switch {
	case err == nil:
		jnl.FinishRun("completed")
	case errors.Is(err, batch.ErrAborted):
		ui.Infof("Arrêt demandé, la progression est conservée.")
		jnl.FinishRun("aborted")
	case errors.Is(err, context.Canceled):
		ui.Infof("Interruption, la progression est conservée.")
		jnl.FinishRun("interrupted")
	default:
		ui.Failf("Erreur : %v", err)
		jnl.FinishRun("failed")
	}

	// Leave the browser up for inspection until the operator is done.
	_ = ui.Pause("Appuyez sur Entrée pour fermer le navigateur... ")
}

func services(cfg config.Config) []opale.Service {
	if len(cfg.Services) == 0 {
		return nil
	}
	out := make([]opale.Service, len(cfg.Services))
	for i, s := range cfg.Services {
		out[i] = opale.Service{Label: s.Label, CheckAll: s.CheckAll}
	}
	return out
}

func buildNotifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	var sinks notify.Multi
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	if cfg.Notify.Discord.Enabled {
		dc, err := notify.NewDiscord(cfg.Notify.Discord.Token, cfg.Notify.Discord.ChannelID, logger)
		if err != nil {
			logger.Warn("discord notifier disabled", zap.Error(err))
		} else {
			sinks = append(sinks, dc)
		}
	}
	if len(sinks) == 0 {
		return notify.Noop{}
	}
	return sinks
}

func printSummary(ui *console.Console, sum batch.Summary) {
	if len(sum.Groups) == 0 {
		return
	}
	ui.Infof("")
	ui.Infof("Récapitulatif :")
	for _, g := range sum.Groups {
		ui.Infof("  %s : %d/%d traités, %d ignorés", g.Group, g.Done, g.Total, g.Skipped)
	}
}
