package store

import (
	"context"
	"errors"
	"testing"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, client *Client, runID string) {
	ctx := context.Background()
	_, err := client.CreateRun(ctx, evalmodel.Run{RunID: runID, TotalScenarios: 1, TotalConfigs: 1})
	require.NoError(t, err)
}

func TestEnqueueTrials_isIdempotentOnNaturalKey(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	seedRun(t, client, "run-1")

	trial := TrialRecord{Key: evalmodel.NaturalKey{RunID: "run-1", ScenarioID: "scn-1", ProfileName: "cell_1", AttemptOrdinal: 1}, ScenarioName: "fractions"}
	require.NoError(t, client.EnqueueTrials(ctx, []TrialRecord{trial}))
	require.NoError(t, client.EnqueueTrials(ctx, []TrialRecord{trial}))

	n, err := client.CountPendingTrials(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimNextTrial_claimsOldestPendingAndExcludesClaimed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	seedRun(t, client, "run-1")

	require.NoError(t, client.EnqueueTrials(ctx, []TrialRecord{
		{Key: evalmodel.NaturalKey{RunID: "run-1", ScenarioID: "scn-1", ProfileName: "cell_1", AttemptOrdinal: 1}},
		{Key: evalmodel.NaturalKey{RunID: "run-1", ScenarioID: "scn-2", ProfileName: "cell_1", AttemptOrdinal: 1}},
	}))

	first, err := client.ClaimNextTrial(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "scn-1", first.Key.ScenarioID)
	assert.Equal(t, TrialStatusClaimed, first.Status)

	second, err := client.ClaimNextTrial(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "scn-2", second.Key.ScenarioID)

	_, err = client.ClaimNextTrial(ctx, "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTrialsAvailable))
}

func TestCompleteTrial_removesItFromPendingCount(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	seedRun(t, client, "run-1")

	require.NoError(t, client.EnqueueTrials(ctx, []TrialRecord{
		{Key: evalmodel.NaturalKey{RunID: "run-1", ScenarioID: "scn-1", ProfileName: "cell_1", AttemptOrdinal: 1}},
	}))

	claimed, err := client.ClaimNextTrial(ctx, "run-1")
	require.NoError(t, err)
	require.NoError(t, client.CompleteTrial(ctx, claimed.ID))

	n, err := client.CountPendingTrials(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
