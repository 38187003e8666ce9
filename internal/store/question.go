package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// InsertQuestion validates and stores a question. The class is taken from the subject.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	sub, err := s.GetSubject(ctx, q.SubjectID)
	if err != nil {
		return "", fmt.Errorf("question subject: %w", err)
	}
	return s.docs.Add(ctx, s.coll(collQuestions), questionFields(q, sub))
}

// putQuestion writes a question under a caller-chosen id, replacing any
// question already stored there.
func (s *Store) putQuestion(ctx context.Context, id string, q model.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	sub, err := s.GetSubject(ctx, q.SubjectID)
	if err != nil {
		return fmt.Errorf("question subject: %w", err)
	}
	return s.docs.Set(ctx, s.coll(collQuestions), id, questionFields(q, sub))
}

func questionFields(q model.Question, sub *model.Subject) docstore.Fields {
	return docstore.Fields{
		"classId":       sub.ClassID,
		"subjectId":     sub.ID,
		"text":          q.Text,
		"image":         q.Image,
		"options":       q.Options,
		"correctOption": q.CorrectOption,
	}
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	doc, err := s.docs.Get(ctx, s.coll(collQuestions), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, model.NotFound("question", id)
	}
	if err != nil {
		return nil, err
	}
	var q model.Question
	if err := doc.DataTo(&q); err != nil {
		return nil, err
	}
	q.ID = doc.ID
	return &q, nil
}

// ListQuestions returns all questions.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	docs, err := s.docs.Query(ctx, s.coll(collQuestions))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(q *model.Question, id string) { q.ID = id })
}

// ListQuestionsBySubject returns the question bank of one subject.
func (s *Store) ListQuestionsBySubject(ctx context.Context, subjectID string) ([]model.Question, error) {
	docs, err := s.docs.Query(ctx, s.coll(collQuestions), docstore.Where("subjectId", subjectID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(q *model.Question, id string) { q.ID = id })
}

// DeleteQuestion removes a question.
func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collQuestions), id)
}
