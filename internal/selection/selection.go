// Package selection applies the business rules that decide which clients
// receive a notice on a given run day.
package selection

import (
	"time"

	"courtnotify/internal/config"
	"courtnotify/internal/roster"
)

// Recipient pairs a client record with the date rule it matched. Derived
// per run, never persisted.
type Recipient struct {
	roster.Record

	// TargetDate is the hearing date this run is notifying for
	// (today + hearing offset).
	TargetDate time.Time

	// FarFuture is set when the record matched the deferred-case
	// sentinel date instead of the primary target date.
	FarFuture bool
}

// TargetDate returns the hearing date a run started on today notifies
// for.
func TargetDate(cfg *config.Config, today time.Time) time.Time {
	return truncate(today).AddDate(0, 0, cfg.HearingDateOffsetDays)
}

// SentinelDate returns the far-future date used to flag indefinitely
// deferred cases. It is offset from the target date, not from today;
// exports encode deferred hearings as target + future offset.
func SentinelDate(cfg *config.Config, today time.Time) time.Time {
	return TargetDate(cfg, today).AddDate(0, 0, cfg.FutureDateOffsetDays)
}

// Select returns the recipients for this run in input order. A record is
// selected iff its category is one of the configured categories and its
// hearing date equals either the target date or the far-future sentinel.
// Duplicate contact/category pairs are retained on purpose: every hearing
// gets its own notice. The result depends only on records, cfg, and
// today, so two calls with the same inputs yield identical lists.
func Select(records []roster.Record, cfg *config.Config, today time.Time) []Recipient {
	target := TargetDate(cfg, today)
	sentinel := SentinelDate(cfg, today)

	categories := make(map[string]struct{}, len(cfg.SelectedCategories))
	for _, c := range cfg.SelectedCategories {
		categories[c] = struct{}{}
	}

	var out []Recipient
	for _, rec := range records {
		if _, ok := categories[rec.Category]; !ok {
			continue
		}
		date := truncate(rec.NextHearingDate)
		switch {
		case date.Equal(target):
			out = append(out, Recipient{Record: rec, TargetDate: target})
		case date.Equal(sentinel):
			out = append(out, Recipient{Record: rec, TargetDate: target, FarFuture: true})
		}
	}
	return out
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
