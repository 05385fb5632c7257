package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtnotify/internal/config"
	"courtnotify/internal/roster"
	"courtnotify/internal/selection"
)

// fakeTransport scripts per-contact behavior.
type fakeTransport struct {
	openErr   map[string]error
	submitErr map[string]error
	failFirst map[string]int // contact -> number of failing submits before success

	current string
	opens   []string
	submits int
}

func (f *fakeTransport) OpenConversation(_ context.Context, contact, _ string) error {
	f.current = contact
	f.opens = append(f.opens, contact)
	if err := f.openErr[contact]; err != nil {
		return err
	}
	return nil
}

func (f *fakeTransport) Submit(context.Context) error {
	f.submits++
	if n := f.failFirst[f.current]; n > 0 {
		f.failFirst[f.current] = n - 1
		return fmt.Errorf("transient submit failure")
	}
	if err := f.submitErr[f.current]; err != nil {
		return err
	}
	return nil
}

type staticRenderer struct {
	err error
}

func (r staticRenderer) Render(rec selection.Recipient) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "Dear " + rec.Client, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxMessageRetries:       2,
		MessageSendDelaySeconds: 5,
	}
}

func recipients(contacts ...string) []selection.Recipient {
	out := make([]selection.Recipient, 0, len(contacts))
	for i, c := range contacts {
		out = append(out, selection.Recipient{Record: roster.Record{
			Row:      i + 1,
			Client:   "client-" + c,
			Contact:  c,
			Category: "Active",
		}})
	}
	return out
}

func newDispatcher(tr Transport, r Renderer, cfg *config.Config) (*Dispatcher, *[]time.Duration) {
	d := New(tr, r, cfg, nil)
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) { slept = append(slept, dur) }
	d.now = func() time.Time { return time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC) }
	return d, &slept
}

func TestDispatch_AllSent(t *testing.T) {
	tr := &fakeTransport{}
	d, slept := newDispatcher(tr, staticRenderer{}, testConfig())

	outcomes, err := d.Dispatch(context.Background(), recipients("911", "922", "933"))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, StatusSent, o.Status)
		assert.Equal(t, 1, o.Attempts)
		assert.False(t, o.Timestamp.IsZero())
	}
	// Paced delay between recipients, none after the last.
	assert.Len(t, *slept, 2)
	assert.Equal(t, 5*time.Second, (*slept)[0])
}

func TestDispatch_ContactNotFoundNoRetry(t *testing.T) {
	tr := &fakeTransport{openErr: map[string]error{"911": ErrContactNotFound}}
	d, _ := newDispatcher(tr, staticRenderer{}, testConfig())

	outcomes, err := d.Dispatch(context.Background(), recipients("911", "922"))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, ReasonContactNotFound, outcomes[0].Reason)
	assert.Equal(t, 1, outcomes[0].Attempts, "lookup failures must not be retried")

	assert.Equal(t, StatusSent, outcomes[1].Status, "failure must not abort the run")
}

func TestDispatch_SendControlNotFound(t *testing.T) {
	tr := &fakeTransport{submitErr: map[string]error{
		"911": ErrSendControlNotFound,
	}}
	d, _ := newDispatcher(tr, staticRenderer{}, testConfig())

	outcomes, err := d.Dispatch(context.Background(), recipients("911", "922", "933"))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, ReasonSendControlNotFound, outcomes[0].Reason)
	assert.Equal(t, 1, outcomes[0].Attempts)

	// Subsequent recipients still processed.
	assert.Equal(t, StatusSent, outcomes[1].Status)
	assert.Equal(t, StatusSent, outcomes[2].Status)
}

func TestDispatch_RetryThenSuccess(t *testing.T) {
	tr := &fakeTransport{failFirst: map[string]int{"911": 1}}
	d, slept := newDispatcher(tr, staticRenderer{}, testConfig())

	outcomes, err := d.Dispatch(context.Background(), recipients("911"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, StatusSent, outcomes[0].Status)
	assert.Equal(t, 2, outcomes[0].Attempts)
	assert.Len(t, *slept, 1, "one retry pause, no trailing pause")
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	tr := &fakeTransport{submitErr: map[string]error{"911": errors.New("socket hang up")}}
	cfg := testConfig() // MaxMessageRetries = 2
	d, _ := newDispatcher(tr, staticRenderer{}, cfg)

	outcomes, err := d.Dispatch(context.Background(), recipients("911"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	o := outcomes[0]
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ReasonSendFailed, o.Reason)
	assert.Equal(t, cfg.MaxMessageRetries+1, o.Attempts, "retry budget is retries+1 total attempts")
	assert.Contains(t, o.ErrorDetail, "socket hang up")
}

func TestDispatch_OneOutcomePerRecipient(t *testing.T) {
	tr := &fakeTransport{
		openErr:   map[string]error{"911": ErrContactNotFound},
		submitErr: map[string]error{"933": errors.New("boom")},
	}
	d, _ := newDispatcher(tr, staticRenderer{}, testConfig())

	recs := recipients("911", "922", "933", "944")
	outcomes, err := d.Dispatch(context.Background(), recs)
	require.NoError(t, err)
	assert.Len(t, outcomes, len(recs), "exactly one outcome per recipient")
}

func TestDispatch_RenderFailureAborts(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newDispatcher(tr, staticRenderer{err: errors.New("unknown placeholder")}, testConfig())

	outcomes, err := d.Dispatch(context.Background(), recipients("911", "922"))
	require.Error(t, err, "render defects are fatal to the run")
	assert.Empty(t, outcomes)
	assert.Zero(t, tr.submits, "nothing may be sent after a render defect")
}

func TestDispatch_ContextCancelled(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newDispatcher(tr, staticRenderer{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err := d.Dispatch(ctx, recipients("911"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
}

func TestPause_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	pause(ctx, time.Minute)
	assert.Less(t, time.Since(start), 5*time.Second,
		"cancelled context must cut the paced delay short")
}

func TestPause_ZeroDelay(t *testing.T) {
	start := time.Now()
	pause(context.Background(), 0)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSkippedOutcome(t *testing.T) {
	ts := time.Now()
	o := SkippedOutcome("Asha", "raw", "malformed hearing date", ts)
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, ReasonInvalidRecord, o.Reason)
	assert.Equal(t, "malformed hearing date", o.ErrorDetail)
	assert.Equal(t, ts, o.Timestamp)
}
