// Package dispatch drives message delivery for the selected recipients.
// Delivery is strictly sequential: the underlying UI session has a single
// focus of control, and the paced delay between sends is an
// anti-throttling measure, not an optimization.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"courtnotify/internal/config"
	"courtnotify/internal/selection"
)

// Transport is the messaging capability the dispatcher drives. The
// session manager implements it against the live UI; tests substitute a
// fake.
type Transport interface {
	// OpenConversation navigates to the conversation for the
	// normalized contact with the message body pre-filled.
	OpenConversation(ctx context.Context, contact, body string) error

	// Submit presses the send control of the currently open
	// conversation.
	Submit(ctx context.Context) error
}

// Renderer produces the message body for a recipient.
type Renderer interface {
	Render(selection.Recipient) (string, error)
}

// Sentinel conditions a Transport reports. Both are terminal for the
// recipient: the contact identity does not change between attempts, and
// a missing send control means the selector chain is exhausted.
var (
	ErrContactNotFound     = errors.New("contact not found")
	ErrSendControlNotFound = errors.New("send control not found")
)

// Status of one delivery.
type Status string

const (
	StatusSent    Status = "Sent"
	StatusFailed  Status = "Failed"
	StatusSkipped Status = "Skipped"
)

// Outcome reason codes.
const (
	ReasonInvalidRecord       = "invalid_record"
	ReasonContactNotFound     = "contact_not_found"
	ReasonSendControlNotFound = "send_control_not_found"
	ReasonSendFailed          = "send_failed"
)

// Outcome is the per-recipient delivery result. Immutable once created.
type Outcome struct {
	Client      string
	Contact     string
	Category    string
	HearingDate time.Time
	Status      Status
	Reason      string
	Attempts    int
	ErrorDetail string
	Timestamp   time.Time
}

// Dispatcher sends notices one recipient at a time.
type Dispatcher struct {
	transport Transport
	renderer  Renderer
	cfg       *config.Config
	log       *zap.Logger

	// Injection points for tests.
	sleep func(context.Context, time.Duration)
	now   func() time.Time
}

// pause waits for d or until ctx is cancelled, whichever comes first.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// New builds a Dispatcher. The transport is borrowed, never closed here;
// its lifecycle belongs to the session manager.
func New(transport Transport, renderer Renderer, cfg *config.Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		transport: transport,
		renderer:  renderer,
		cfg:       cfg,
		log:       log,
		sleep:     pause,
		now:       time.Now,
	}
}

// Dispatch delivers to each recipient in order and returns exactly one
// Outcome per recipient. Per-recipient failures never abort the run. A
// render failure does: it signals a template/configuration defect, and
// silently skipping a legitimate recipient is worse than stopping.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []selection.Recipient) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(recipients))

	for i, rec := range recipients {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		body, err := d.renderer.Render(rec)
		if err != nil {
			return outcomes, fmt.Errorf("render message for %s (row %d): %w", rec.Client, rec.Row, err)
		}

		d.log.Info("sending notice",
			zap.Int("position", i+1),
			zap.Int("total", len(recipients)),
			zap.String("client", rec.Client),
			zap.String("contact", rec.Contact),
			zap.String("category", rec.Category))

		outcomes = append(outcomes, d.deliver(ctx, rec, body))

		if i < len(recipients)-1 {
			d.sleep(ctx, d.cfg.MessageSendDelay())
		}
	}
	return outcomes, nil
}

// deliver makes up to MaxMessageRetries+1 attempts for one recipient.
func (d *Dispatcher) deliver(ctx context.Context, rec selection.Recipient, body string) Outcome {
	out := Outcome{
		Client:      rec.Client,
		Contact:     rec.Contact,
		Category:    rec.Category,
		HearingDate: rec.NextHearingDate,
	}

	var lastErr error
	for out.Attempts <= d.cfg.MaxMessageRetries {
		out.Attempts++

		err := d.attempt(ctx, rec, body)
		if err == nil {
			out.Status = StatusSent
			out.Timestamp = d.now()
			d.log.Info("notice sent",
				zap.String("client", rec.Client),
				zap.Int("attempts", out.Attempts))
			return out
		}

		if errors.Is(err, ErrContactNotFound) {
			// Retrying a lookup failure is not useful.
			return d.failed(out, ReasonContactNotFound, err, rec)
		}
		if errors.Is(err, ErrSendControlNotFound) {
			// Selector fallback chain exhausted; UI has drifted.
			return d.failed(out, ReasonSendControlNotFound, err, rec)
		}

		lastErr = err
		d.log.Warn("send attempt failed",
			zap.String("client", rec.Client),
			zap.Int("attempt", out.Attempts),
			zap.Error(err))
		if out.Attempts <= d.cfg.MaxMessageRetries {
			d.sleep(ctx, d.cfg.MessageSendDelay())
		}
	}

	return d.failed(out, ReasonSendFailed, lastErr, rec)
}

func (d *Dispatcher) attempt(ctx context.Context, rec selection.Recipient, body string) error {
	if err := d.transport.OpenConversation(ctx, rec.Contact, body); err != nil {
		return err
	}
	return d.transport.Submit(ctx)
}

func (d *Dispatcher) failed(out Outcome, reason string, err error, rec selection.Recipient) Outcome {
	out.Status = StatusFailed
	out.Reason = reason
	if err != nil {
		out.ErrorDetail = err.Error()
	}
	out.Timestamp = d.now()
	d.log.Error("notice failed",
		zap.String("client", rec.Client),
		zap.String("contact", rec.Contact),
		zap.String("reason", reason),
		zap.Int("attempts", out.Attempts),
		zap.Error(err))
	return out
}

// SkippedOutcome records a row excluded during dataset validation so the
// summary accounts for every input row.
func SkippedOutcome(client, contact, detail string, ts time.Time) Outcome {
	return Outcome{
		Client:      client,
		Contact:     contact,
		Status:      StatusSkipped,
		Reason:      ReasonInvalidRecord,
		ErrorDetail: detail,
		Timestamp:   ts,
	}
}
