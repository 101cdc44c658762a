package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/journey"
)

// RepairStatus classifies one stored journey.
type RepairStatus string

const (
	RepairEmpty         RepairStatus = "empty"
	RepairCanonical     RepairStatus = "canonical"
	RepairNeeded        RepairStatus = "needs_rewrite"
	RepairRewritten     RepairStatus = "rewritten"
	RepairUnrecoverable RepairStatus = "unrecoverable"
)

type RepairResult struct {
	PersonID string
	Name     string
	Status   RepairStatus
	Strategy journey.Strategy
	Cards    int
}

// RepairJourneys classifies every stored journey. With write set, journeys
// that decode but are not in canonical form are rewritten canonically;
// journey_updated_at is left alone. Unrecoverable rows are never touched.
func (s *SQLiteStore) RepairJourneys(ctx context.Context, write bool) ([]RepairResult, error) {
	people, err := s.GetAllPersons(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RepairResult, 0, len(people))
	for _, p := range people {
		res := RepairResult{PersonID: p.ID, Name: p.Name}
		j, strategy, err := journey.ParseWithStrategy(p.Journey)
		res.Strategy = strategy
		res.Cards = len(j.Cards)
		switch {
		case err != nil:
			res.Status = RepairUnrecoverable
		case strategy == journey.StrategyEmpty:
			res.Status = RepairEmpty
		case p.Journey == journey.Canonical(j):
			res.Status = RepairCanonical
		default:
			res.Status = RepairNeeded
			if write {
				if err := s.rewriteJourney(ctx, p.ID, journey.Canonical(j)); err != nil {
					return out, err
				}
				res.Status = RepairRewritten
				slog.Info("store: journey rewritten", "person", p.Name, "strategy", string(strategy))
			}
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *SQLiteStore) rewriteJourney(ctx context.Context, id, payload string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE recursers SET journey = ? WHERE id = ?;`, payload, id); err != nil {
		return core.E(core.KindRepository, "rewrite journey", errors.Wrap(err, "rewrite journey"))
	}
	return nil
}
