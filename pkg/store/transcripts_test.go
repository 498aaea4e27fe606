package store

import (
	"errors"
	"testing"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptStore_writeThenReadByDialogueID(t *testing.T) {
	ts, err := NewTranscriptStore(t.TempDir())
	require.NoError(t, err)

	original := evalmodel.DialogueTranscript{
		DialogueID:  "dlg-1",
		RunID:       "run-1",
		ScenarioID:  "scn-1",
		ProfileName: "cell_1",
		Entries: []evalmodel.TraceEntry{
			{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionFinalOutput, Content: "hello"},
		},
		TotalTurns: 1,
	}

	path, err := ts.Write(original)
	require.NoError(t, err)
	assert.FileExists(t, path)

	loaded, err := ts.ReadByDialogueID("dlg-1")
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestTranscriptStore_findByDialogueIDMissingReturnsErr(t *testing.T) {
	ts, err := NewTranscriptStore(t.TempDir())
	require.NoError(t, err)

	_, err = ts.FindByDialogueID("does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscriptNotFound))
}
