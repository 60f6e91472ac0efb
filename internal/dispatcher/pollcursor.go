package dispatcher

import (
	"context"
	"fmt"
	"time"
)

// CursorStore persists the provider poll cursor. Adapted from the
// teacher's offset.Tracker, which kept this in a local JSON file;
// since the engine runs as a long-lived, possibly multi-instance
// service, the cursor lives in the relational store instead so a
// restart or a second instance picks up the same position.
type CursorStore interface {
	LoadPollCursor(ctx context.Context, providerName string) (PollCursorState, error)
	SavePollCursor(ctx context.Context, providerName string, state PollCursorState) error
}

// PollCursorState is the persisted position of a provider event poll.
type PollCursorState struct {
	LastEventAt time.Time
	LastEventID string
}

// backfillWindow bounds how far back a fresh cursor starts (spec.md
// §4.12's 24h backfill on first run / cursor loss).
const backfillWindow = 24 * time.Hour

// PollCursor tracks the last-seen provider event per provider so the
// periodic backfill poll only re-requests events it may have missed,
// while the dispatcher's own dedup (EventStore + 60s cache) absorbs
// events the poll re-delivers.
type PollCursor struct {
	store        CursorStore
	providerName string
}

// NewPollCursor creates a cursor for one named provider.
func NewPollCursor(store CursorStore, providerName string) *PollCursor {
	return &PollCursor{store: store, providerName: providerName}
}

// Position returns the timestamp to resume polling from, defaulting to
// now minus backfillWindow when no cursor has been saved yet.
func (p *PollCursor) Position(ctx context.Context, now time.Time) (PollCursorState, error) {
	state, err := p.store.LoadPollCursor(ctx, p.providerName)
	if err != nil {
		return PollCursorState{}, fmt.Errorf("pollCursor: load %s: %w", p.providerName, err)
	}
	if state.LastEventAt.IsZero() {
		return PollCursorState{LastEventAt: now.Add(-backfillWindow)}, nil
	}
	return state, nil
}

// Advance persists the cursor past the given event, if it is newer
// than what's stored. Ignores out-of-order deliveries so a slow
// straggler in a batch can't rewind the cursor.
func (p *PollCursor) Advance(ctx context.Context, eventAt time.Time, eventID string) error {
	current, err := p.store.LoadPollCursor(ctx, p.providerName)
	if err != nil {
		return fmt.Errorf("pollCursor: load %s: %w", p.providerName, err)
	}
	if !current.LastEventAt.IsZero() && eventAt.Before(current.LastEventAt) {
		return nil
	}
	return p.store.SavePollCursor(ctx, p.providerName, PollCursorState{LastEventAt: eventAt, LastEventID: eventID})
}
