package store

import (
	"context"
	"time"

	"github.com/you/recurse-review/internal/core"
)

type broadcaster interface {
	Broadcast(core.JourneyEvent)
}

// WithBroadcast publishes a JourneyEvent after every successful journey write.
type WithBroadcast struct {
	*SQLiteStore
	api broadcaster
}

func WithAPI(base *SQLiteStore, api broadcaster) *WithBroadcast {
	return &WithBroadcast{SQLiteStore: base, api: api}
}

func (w *WithBroadcast) UpdatePersonJourney(ctx context.Context, personID, payload string) error {
	if err := w.SQLiteStore.UpdatePersonJourney(ctx, personID, payload); err != nil {
		return err
	}
	if w.api == nil {
		return nil
	}
	ev := core.JourneyEvent{PersonID: personID, UpdatedAt: time.Now().UTC()}
	if p, err := w.GetPersonByID(ctx, personID); err == nil && p != nil {
		ev = eventFor(*p)
	}
	w.api.Broadcast(ev)
	return nil
}

func (w *WithBroadcast) UpdateJourneyByName(ctx context.Context, name, payload string) (core.Person, error) {
	p, err := w.SQLiteStore.UpdateJourneyByName(ctx, name, payload)
	if err != nil {
		return p, err
	}
	if w.api != nil {
		w.api.Broadcast(eventFor(p))
	}
	return p, nil
}

func eventFor(p core.Person) core.JourneyEvent {
	return core.JourneyEvent{
		PersonID:     p.ID,
		Name:         p.Name,
		Slug:         p.Slug(),
		MessageCount: p.MessageCount,
		UpdatedAt:    p.JourneyUpdatedAt,
	}
}
