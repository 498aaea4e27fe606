package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// TranscriptStore is the filesystem-backed home of DialogueTranscript
// artifacts (spec.md §6: "<logs>/tutor-dialogues/<date>-<dialogue_id>.json"),
// written once by the Scheduler and read thereafter by the transcript CLI
// command and by Rejudge. Kept separate from the relational Client: a
// transcript is a write-once blob keyed by dialogue_id, not a row with
// mutable columns, and does not belong in a SQL table.
type TranscriptStore struct {
	dir string
}

// NewTranscriptStore returns a store rooted at dir, creating it if absent.
func NewTranscriptStore(dir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &TranscriptStore{dir: dir}, nil
}

// Write serialises t to its own JSON file and returns the path written.
func (s *TranscriptStore) Write(t evalmodel.DialogueTranscript) (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("2006-01-02"), t.DialogueID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write transcript %s: %w", path, err)
	}
	return path, nil
}

// Read loads a transcript from an exact path (as returned by Write or
// FindByDialogueID).
func (s *TranscriptStore) Read(path string) (evalmodel.DialogueTranscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return evalmodel.DialogueTranscript{}, fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	var t evalmodel.DialogueTranscript
	if err := json.Unmarshal(data, &t); err != nil {
		return evalmodel.DialogueTranscript{}, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	return t, nil
}

// FindByDialogueID locates a transcript file by its dialogue_id, since the
// date prefix in the filename is otherwise unknown to the caller.
func (s *TranscriptStore) FindByDialogueID(dialogueID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*-"+dialogueID+".json"))
	if err != nil {
		return "", fmt.Errorf("failed to search transcripts: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: dialogue_id %s", ErrTranscriptNotFound, dialogueID)
	}
	return matches[0], nil
}

// ReadByDialogueID is the common Find-then-Read path used by the
// transcript CLI command and Rejudge.
func (s *TranscriptStore) ReadByDialogueID(dialogueID string) (evalmodel.DialogueTranscript, error) {
	path, err := s.FindByDialogueID(dialogueID)
	if err != nil {
		return evalmodel.DialogueTranscript{}, err
	}
	return s.Read(path)
}
