package model

import "time"

// ResultExport is the top-level JSON structure of a results export.
type ResultExport struct {
	SchoolName string      `json:"school_name"`
	ExportedAt time.Time   `json:"exported_at"`
	Results    []ResultRow `json:"results"`
}

// ResultRow is one result joined with its student and subject for export.
type ResultRow struct {
	ExamID         string    `json:"exam_id"`
	StudentID      string    `json:"student_id"`
	ExamNumber     string    `json:"exam_number"`
	FullName       string    `json:"full_name"`
	SubjectName    string    `json:"subject_name"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
