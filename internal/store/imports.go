package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// ErrInvalidQuestionsFile is returned for question files that are not a JSON
// array of questions.
var ErrInvalidQuestionsFile = errors.New("invalid questions file")

// ImportOutcome describes what ImportQuestions did with a file.
type ImportOutcome struct {
	Imported  int  `json:"imported"`
	Unchanged bool `json:"unchanged"`
	Changed   bool `json:"changed"`
}

// GetImportedFileHash returns the hash recorded for an imported file, or "".
func (s *Store) GetImportedFileHash(ctx context.Context, key string) (string, error) {
	doc, err := s.docs.Get(ctx, s.coll(collImports), key)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var v struct {
		Hash string `json:"hash"`
	}
	if err := doc.DataTo(&v); err != nil {
		return "", err
	}
	return v.Hash, nil
}

// SetImportedFileHash records the hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, key, hash string) error {
	return s.docs.Set(ctx, s.coll(collImports), key, docstore.Fields{
		"hash":       hash,
		"importedAt": docstore.ServerTimestamp,
	})
}

// ImportQuestions adds the questions of a JSON file (an array of questions with
// text, options and correctOption) to a subject's bank. A file is imported once
// per subject: the same content is skipped, and a changed file is refused so
// that banks in use by running exams stay stable.
func (s *Store) ImportQuestions(ctx context.Context, subjectID, name string, data []byte) (ImportOutcome, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := subjectID + ":" + name

	stored, err := s.GetImportedFileHash(ctx, key)
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("questions file unchanged, skipping", "name", name, "subject_id", subjectID)
		return ImportOutcome{Unchanged: true}, nil
	}
	if stored != "" {
		slog.Warn("questions file changed since last import, skipping", "name", name, "subject_id", subjectID)
		return ImportOutcome{Changed: true}, nil
	}

	var questions []model.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return ImportOutcome{}, fmt.Errorf("parse %s: %w: %w", name, ErrInvalidQuestionsFile, err)
	}
	for i, q := range questions {
		q.SubjectID = subjectID
		if err := q.Validate(); err != nil {
			return ImportOutcome{}, fmt.Errorf("%s question %d: %w", name, i+1, err)
		}
	}
	// Ids derive from the file, so a retry after a partial failure rewrites
	// the same questions instead of adding them twice.
	idSum := sha256.Sum256([]byte(key + ":" + hash))
	idPrefix := "imp-" + hex.EncodeToString(idSum[:12])
	for i, q := range questions {
		q.SubjectID = subjectID
		if err := s.putQuestion(ctx, fmt.Sprintf("%s-%d", idPrefix, i+1), q); err != nil {
			return ImportOutcome{}, fmt.Errorf("insert question from %s: %w", name, err)
		}
	}
	if err := s.SetImportedFileHash(ctx, key, hash); err != nil {
		return ImportOutcome{}, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported questions", "name", name, "subject_id", subjectID, "count", len(questions))
	return ImportOutcome{Imported: len(questions)}, nil
}
