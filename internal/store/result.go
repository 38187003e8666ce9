package store

import (
	"context"
	"errors"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// CreateResult writes a graded result. There is no update path for results.
func (s *Store) CreateResult(ctx context.Context, r model.Result) (string, error) {
	if r.Score < 0 || r.Score > r.TotalQuestions {
		return "", errors.New("result score out of range")
	}
	answers := r.Answers
	if answers == nil {
		answers = map[string]model.OptionLabel{}
	}
	return s.docs.Add(ctx, s.coll(collResults), docstore.Fields{
		"examId":         r.ExamID,
		"studentId":      r.StudentID,
		"subjectId":      r.SubjectID,
		"score":          r.Score,
		"totalQuestions": r.TotalQuestions,
		"answers":        answers,
		"timestamp":      docstore.ServerTimestamp,
	})
}

// ResultsForStudent returns every result of a student, oldest first.
func (s *Store) ResultsForStudent(ctx context.Context, studentID string) ([]model.Result, error) {
	docs, err := s.docs.Query(ctx, s.coll(collResults), docstore.Where("studentId", studentID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(r *model.Result, id string) { r.ID = id })
}

// ListResults returns all results.
func (s *Store) ListResults(ctx context.Context) ([]model.Result, error) {
	docs, err := s.docs.Query(ctx, s.coll(collResults))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(r *model.Result, id string) { r.ID = id })
}
