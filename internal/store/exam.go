package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// DefaultExamDuration is used when an exam is created without a duration.
const DefaultExamDuration = 40

// CreateExam stores an exam for a subject. The class comes from the subject and
// the start time is stamped by the store.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (string, error) {
	if e.SubjectID == "" {
		return "", errors.New("exam subject is required")
	}
	if e.Duration < 0 {
		return "", errors.New("exam duration cannot be negative")
	}
	if e.Duration == 0 {
		e.Duration = DefaultExamDuration
	}
	if strings.TrimSpace(e.Instruction) == "" {
		e.Instruction = "Attempt all questions."
	}
	sub, err := s.GetSubject(ctx, e.SubjectID)
	if err != nil {
		return "", fmt.Errorf("exam subject: %w", err)
	}
	return s.docs.Add(ctx, s.coll(collExams), docstore.Fields{
		"classId":     sub.ClassID,
		"subjectId":   sub.ID,
		"duration":    e.Duration,
		"active":      e.Active,
		"instruction": e.Instruction,
		"startTime":   docstore.ServerTimestamp,
	})
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	doc, err := s.docs.Get(ctx, s.coll(collExams), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, model.NotFound("exam", id)
	}
	if err != nil {
		return nil, err
	}
	var e model.Exam
	if err := doc.DataTo(&e); err != nil {
		return nil, err
	}
	e.ID = doc.ID
	return &e, nil
}

// ListExams returns all exams.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	docs, err := s.docs.Query(ctx, s.coll(collExams))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(e *model.Exam, id string) { e.ID = id })
}

// ListActiveExamsForStudent returns active exams in subjects the student takes.
func (s *Store) ListActiveExamsForStudent(ctx context.Context, st model.Student) ([]model.Exam, error) {
	docs, err := s.docs.Query(ctx, s.coll(collExams), docstore.Where("active", true))
	if err != nil {
		return nil, err
	}
	exams, err := decodeAll(docs, func(e *model.Exam, id string) { e.ID = id })
	if err != nil {
		return nil, err
	}
	mine := exams[:0]
	for _, e := range exams {
		if st.TakesSubject(e.SubjectID) {
			mine = append(mine, e)
		}
	}
	return mine, nil
}

// SetExamActive switches an exam on or off.
func (s *Store) SetExamActive(ctx context.Context, id string, active bool) error {
	err := s.docs.Update(ctx, s.coll(collExams), id, docstore.Fields{"active": active})
	if errors.Is(err, docstore.ErrNotFound) {
		return model.NotFound("exam", id)
	}
	return err
}

// ToggleExamActive flips the active flag and returns the new value.
func (s *Store) ToggleExamActive(ctx context.Context, id string) (bool, error) {
	e, err := s.GetExam(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.SetExamActive(ctx, id, !e.Active); err != nil {
		return false, err
	}
	return !e.Active, nil
}

// DeleteExam removes an exam. Results already written for it are kept.
func (s *Store) DeleteExam(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collExams), id)
}
