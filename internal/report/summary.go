// Package report turns the per-recipient outcomes of a run into the
// operator-facing artifacts: the summary CSV, the notification text sent
// to the operator contacts, and the run-history database.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"courtnotify/internal/dispatch"
)

// Summary aggregates every outcome of one run. Exactly one row per
// recipient and per excluded input row.
type Summary struct {
	RunID      string
	Profile    string
	TargetDate time.Time
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	Sent    int
	Failed  int
	Skipped int

	// ByCategory counts sent notices per client category.
	ByCategory map[string]int

	Outcomes []dispatch.Outcome
}

// BuildSummary tallies outcomes into a Summary with a fresh run id.
func BuildSummary(profile string, targetDate time.Time, outcomes []dispatch.Outcome, startedAt, finishedAt time.Time) *Summary {
	s := &Summary{
		RunID:      uuid.NewString(),
		Profile:    profile,
		TargetDate: targetDate,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ByCategory: make(map[string]int),
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case dispatch.StatusSent:
			s.Sent++
			s.ByCategory[o.Category]++
		case dispatch.StatusFailed:
			s.Failed++
		case dispatch.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Total is the number of outcomes accounted for.
func (s *Summary) Total() int { return len(s.Outcomes) }

// csvHeader is stable; downstream spreadsheets key on these names.
var csvHeader = []string{
	"run_id", "client", "contact", "category", "hearing_date",
	"status", "reason", "attempts", "error_detail", "timestamp",
}

// WriteCSV writes one row per outcome to path, creating parent
// directories as needed. The file is rewritten whole each run; the
// per-run history lives in the database, not in this file.
func (s *Summary) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create summary file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, o := range s.Outcomes {
		hearing := ""
		if !o.HearingDate.IsZero() {
			hearing = o.HearingDate.Format("2006-01-02")
		}
		row := []string{
			s.RunID,
			o.Client,
			o.Contact,
			o.Category,
			hearing,
			string(o.Status),
			o.Reason,
			strconv.Itoa(o.Attempts),
			o.ErrorDetail,
			o.Timestamp.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("report: write row for %s: %w", o.Client, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush summary: %w", err)
	}
	return nil
}

// NotificationText renders the operator summary message. Kept to plain
// lines so it reads cleanly in a chat window.
func (s *Summary) NotificationText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hearing notice run complete (%s)\n", s.Profile)
	fmt.Fprintf(&b, "Hearings on: %s\n", s.TargetDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Sent: %d, Failed: %d, Skipped: %d\n", s.Sent, s.Failed, s.Skipped)

	if len(s.ByCategory) > 0 {
		cats := make([]string, 0, len(s.ByCategory))
		for c := range s.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		parts := make([]string, 0, len(cats))
		for _, c := range cats {
			parts = append(parts, fmt.Sprintf("%s %d", c, s.ByCategory[c]))
		}
		fmt.Fprintf(&b, "By category: %s\n", strings.Join(parts, ", "))
	}

	for _, o := range s.Outcomes {
		if o.Status != dispatch.StatusFailed {
			continue
		}
		fmt.Fprintf(&b, "FAILED: %s (%s) - %s\n", o.Client, o.Contact, o.Reason)
	}
	fmt.Fprintf(&b, "Duration: %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	return b.String()
}
