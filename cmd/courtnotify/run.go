package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"courtnotify/internal/config"
	"courtnotify/internal/dispatch"
	"courtnotify/internal/message"
	"courtnotify/internal/report"
	"courtnotify/internal/roster"
	"courtnotify/internal/selection"
	"courtnotify/internal/session"
)

// run executes one dispatch cycle: load, select, render, send, report.
// Per-recipient failures are recorded in the summary and do not fail the
// run; only pipeline-level defects (stale data, bad templates, no
// session) do.
func run(ctx context.Context, cfg *config.Config, profile string, dryRun bool, log *zap.Logger) error {
	startedAt := time.Now()
	log.Info("starting dispatch run",
		zap.String("profile", profile),
		zap.Bool("dry_run", dryRun),
		zap.Time("started_at", startedAt))

	loader := roster.Loader{
		MaxAge:        cfg.CSVMaxAge(),
		WarningAge:    cfg.CSVWarningAge(),
		DefaultRegion: cfg.DefaultRegion,
		Log:           log,
	}
	records, invalid, err := loader.Load(cfg.CSVPath, startedAt)
	if err != nil {
		return err
	}

	recipients := selection.Select(records, cfg, startedAt)
	target := selection.TargetDate(cfg, startedAt)
	log.Info("recipients selected",
		zap.Time("target_date", target),
		zap.Int("selected", len(recipients)),
		zap.Int("excluded_rows", len(invalid)))

	renderer := message.NewRenderer(cfg.TemplatePaths)
	if err := renderer.Preload(cfg.SelectedCategories); err != nil {
		return err
	}

	if dryRun {
		return runDry(cfg, profile, target, recipients, invalid, renderer, startedAt, log)
	}

	var summary *report.Summary
	var dispatchErr error
	if len(recipients) > 0 {
		summary, dispatchErr = runLive(ctx, cfg, profile, target, recipients, invalid, renderer, startedAt, log)
		if summary == nil {
			// Nothing was dispatched; leave the previous run's
			// artifacts untouched.
			return dispatchErr
		}
	} else {
		log.Info("no hearings match the target date; nothing to send")
		summary = report.BuildSummary(profile, target, skippedOutcomes(invalid, startedAt), startedAt, time.Now())
	}

	if err := persistSummary(cfg, summary, log); err != nil {
		return err
	}
	log.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	return dispatchErr
}

// runLive opens the browser session, drives delivery through it, and
// builds the run summary. The session is closed here no matter how
// dispatch ends. A nil summary means nothing was dispatched.
func runLive(ctx context.Context, cfg *config.Config, profile string, target time.Time, recipients []selection.Recipient, invalid []roster.InvalidRow, renderer *message.Renderer, startedAt time.Time, log *zap.Logger) (*report.Summary, error) {
	mgr, err := session.NewManager(cfg, profile, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		settle(ctx, cfg.CleanupPause())
		if err := mgr.Close(); err != nil {
			log.Warn("session close failed", zap.Error(err))
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	if state := mgr.CheckHealth(ctx); state != session.StateAuthenticated {
		return nil, fmt.Errorf("session is %s, not authenticated; aborting before any send", state)
	}

	outcomes, err := dispatch.New(mgr, renderer, cfg, log).Dispatch(ctx, recipients)
	if err != nil && len(outcomes) == 0 {
		return nil, err
	}

	outcomes = append(outcomes, skippedOutcomes(invalid, startedAt)...)
	summary := report.BuildSummary(profile, target, outcomes, startedAt, time.Now())
	if err != nil {
		return summary, err
	}

	notifyOperators(ctx, cfg, mgr, summary, log)
	return summary, nil
}

// notifyOperators sends the run summary to the configured operator
// contacts through the same session. Best effort: a failed notification
// is logged, never fatal.
func notifyOperators(ctx context.Context, cfg *config.Config, mgr *session.Manager, summary *report.Summary, log *zap.Logger) {
	if len(cfg.NotificationContacts) == 0 {
		return
	}
	text := summary.NotificationText()

	for _, raw := range cfg.NotificationContacts {
		contact, err := roster.NormalizeContact(raw, cfg.DefaultRegion)
		if err != nil {
			log.Warn("skipping unparseable operator contact",
				zap.String("contact", raw), zap.Error(err))
			continue
		}
		if err := mgr.OpenConversation(ctx, contact, text); err != nil {
			log.Warn("operator notification failed",
				zap.String("contact", contact), zap.Error(err))
			continue
		}
		if err := mgr.Submit(ctx); err != nil {
			log.Warn("operator notification failed",
				zap.String("contact", contact), zap.Error(err))
			continue
		}
		log.Info("operator notified", zap.String("contact", contact))
	}
}

// runDry renders every selected message to the log without touching the
// browser or the summary file. Excluded rows are logged and counted so
// the dry run previews the full summary; the run itself is recorded in
// history.
func runDry(cfg *config.Config, profile string, target time.Time, recipients []selection.Recipient, invalid []roster.InvalidRow, renderer *message.Renderer, startedAt time.Time, log *zap.Logger) error {
	for i, rec := range recipients {
		body, err := renderer.Render(rec)
		if err != nil {
			return err
		}
		log.Info("would send",
			zap.Int("position", i+1),
			zap.Int("total", len(recipients)),
			zap.String("client", rec.Client),
			zap.String("contact", rec.Contact),
			zap.String("category", rec.Category),
			zap.Bool("far_future", rec.FarFuture),
			zap.String("body", body))
	}
	for _, row := range invalid {
		log.Info("would skip",
			zap.Int("row", row.Row),
			zap.String("client", row.Client),
			zap.String("detail", row.Detail))
	}

	summary := report.BuildSummary(profile, target, skippedOutcomes(invalid, startedAt), startedAt, time.Now())
	summary.DryRun = true

	history, err := report.OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	defer history.Close()
	if err := history.Record(summary); err != nil {
		return err
	}

	log.Info("dry run complete",
		zap.Int("would_send", len(recipients)),
		zap.Int("would_skip", len(invalid)))
	return nil
}

// skippedOutcomes converts rows excluded during dataset validation into
// summary outcomes.
func skippedOutcomes(invalid []roster.InvalidRow, ts time.Time) []dispatch.Outcome {
	out := make([]dispatch.Outcome, 0, len(invalid))
	for _, row := range invalid {
		out = append(out, dispatch.SkippedOutcome(row.Client, row.Contact, row.Detail, ts))
	}
	return out
}

func persistSummary(cfg *config.Config, summary *report.Summary, log *zap.Logger) error {
	if err := summary.WriteCSV(cfg.SummaryCSVPath); err != nil {
		return err
	}
	log.Info("summary written", zap.String("path", cfg.SummaryCSVPath))

	history, err := report.OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	defer history.Close()
	return history.Record(summary)
}

// showHistory prints the most recent runs for the history subcommand.
func showHistory(w io.Writer, cfg *config.Config) error {
	history, err := report.OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.RecentRuns(20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-8s  %-10s  %-20s  %5s  %6s  %7s\n",
		"RUN ID", "PROFILE", "TARGET", "STARTED", "SENT", "FAILED", "SKIPPED")
	for _, r := range runs {
		id := r.RunID
		if r.DryRun {
			id += " (dry)"
		}
		fmt.Fprintf(w, "%-36s  %-8s  %-10s  %-20s  %5d  %6d  %7d\n",
			id, r.Profile, r.TargetDate, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Sent, r.Failed, r.Skipped)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
