package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/recurse-review/internal/journey"
)

func TestRepairJourneys(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := map[string]string{
		"Ada Lovelace":   `{"cards":["<div>a</div>"]}`,
		"Grace Hopper":   `{\"cards\":[\"<div>g</div>\"]}`,
		"Alan Turing":    `{not json`,
		"Barbara Liskov": "",
	}
	before := map[string]string{}
	for name, payload := range seed {
		id, err := st.UpsertPersonMessageData(ctx, name, 1, "")
		require.NoError(t, err)
		if payload != "" {
			require.NoError(t, st.UpdatePersonJourney(ctx, id, payload))
		}
		p, err := st.GetPersonByName(ctx, name)
		require.NoError(t, err)
		before[name] = p.JourneyUpdatedAt.String()
	}

	statuses := func(results []RepairResult) map[string]RepairStatus {
		out := map[string]RepairStatus{}
		for _, r := range results {
			out[r.Name] = r.Status
		}
		return out
	}

	dry, err := st.RepairJourneys(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]RepairStatus{
		"Ada Lovelace":   RepairCanonical,
		"Grace Hopper":   RepairNeeded,
		"Alan Turing":    RepairUnrecoverable,
		"Barbara Liskov": RepairEmpty,
	}, statuses(dry))

	grace, err := st.GetPersonByName(ctx, "Grace Hopper")
	require.NoError(t, err)
	assert.Equal(t, seed["Grace Hopper"], grace.Journey, "dry run must not write")

	wet, err := st.RepairJourneys(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, RepairRewritten, statuses(wet)["Grace Hopper"])

	grace, err = st.GetPersonByName(ctx, "Grace Hopper")
	require.NoError(t, err)
	assert.Equal(t, `{"cards":["<div>g</div>"]}`, grace.Journey)
	assert.Equal(t, before["Grace Hopper"], grace.JourneyUpdatedAt.String())

	alan, err := st.GetPersonByName(ctx, "Alan Turing")
	require.NoError(t, err)
	assert.Equal(t, `{not json`, alan.Journey)

	again, err := st.RepairJourneys(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, RepairCanonical, statuses(again)["Grace Hopper"])
	for _, r := range again {
		if r.Name == "Grace Hopper" {
			assert.Equal(t, journey.StrategyDirect, r.Strategy)
			assert.Equal(t, 1, r.Cards)
		}
	}
}
