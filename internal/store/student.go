package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// NormalizeExamNumber trims and upper-cases an exam number as typed by a student.
func NormalizeExamNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// CreateStudent inserts a new student. A student registered without subjects
// is enrolled in every subject of their class.
func (s *Store) CreateStudent(ctx context.Context, st model.Student) (string, error) {
	st.ExamNumber = NormalizeExamNumber(st.ExamNumber)
	st.FullName = strings.TrimSpace(st.FullName)
	if st.FullName == "" || st.ExamNumber == "" || st.ClassID == "" {
		return "", errors.New("full name, exam number and class are required")
	}

	if len(st.Subjects) == 0 {
		subjects, err := s.ListSubjectsForClass(ctx, st.ClassID)
		if err != nil {
			return "", fmt.Errorf("list class subjects: %w", err)
		}
		for _, sub := range subjects {
			st.Subjects = append(st.Subjects, sub.ID)
		}
	}
	if st.Subjects == nil {
		st.Subjects = []string{}
	}

	id, err := s.docs.Add(ctx, s.coll(collStudents), docstore.Fields{
		"fullName":   st.FullName,
		"examNumber": st.ExamNumber,
		"classId":    st.ClassID,
		"subjects":   st.Subjects,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return "", fmt.Errorf("%s: %w", st.ExamNumber, ErrDuplicateExamNumber)
	}
	if err != nil {
		slog.Error("failed to create student", "exam_number", st.ExamNumber, "error", err)
		return "", err
	}
	slog.Info("created student", "id", id, "exam_number", st.ExamNumber, "subjects", len(st.Subjects))
	return id, nil
}

// GetStudent returns a student by ID.
func (s *Store) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	doc, err := s.docs.Get(ctx, s.coll(collStudents), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, model.NotFound("student", id)
	}
	if err != nil {
		return nil, err
	}
	var st model.Student
	if err := doc.DataTo(&st); err != nil {
		return nil, err
	}
	st.ID = doc.ID
	return &st, nil
}

// GetStudentByExamNumber returns the student with the exam number, or nil if none.
func (s *Store) GetStudentByExamNumber(ctx context.Context, examNumber string) (*model.Student, error) {
	docs, err := s.docs.Query(ctx, s.coll(collStudents), docstore.Where("examNumber", NormalizeExamNumber(examNumber)))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	students, err := decodeAll(docs[:1], func(st *model.Student, id string) { st.ID = id })
	if err != nil {
		return nil, err
	}
	return &students[0], nil
}

// ListStudents returns all students.
func (s *Store) ListStudents(ctx context.Context) ([]model.Student, error) {
	docs, err := s.docs.Query(ctx, s.coll(collStudents))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(st *model.Student, id string) { st.ID = id })
}

// DeleteStudent removes a student. Their results are kept.
func (s *Store) DeleteStudent(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collStudents), id)
}
