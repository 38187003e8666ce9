package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/cbtportal/internal/model"
)

// ExportResults joins every result with its student and subject.
func (s *Store) ExportResults(ctx context.Context) ([]model.ResultRow, error) {
	results, err := s.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	students, err := s.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	subjectNames, err := s.SubjectNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	byID := make(map[string]model.Student, len(students))
	for _, st := range students {
		byID[st.ID] = st
	}

	rows := make([]model.ResultRow, 0, len(results))
	for _, r := range results {
		// Deleted students still have results; export them without a name.
		st := byID[r.StudentID]
		rows = append(rows, model.ResultRow{
			ExamID:         r.ExamID,
			StudentID:      r.StudentID,
			ExamNumber:     st.ExamNumber,
			FullName:       st.FullName,
			SubjectName:    subjectNames[r.SubjectID],
			Score:          r.Score,
			TotalQuestions: r.TotalQuestions,
			SubmittedAt:    r.CreatedAt,
		})
	}
	return rows, nil
}
