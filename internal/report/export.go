package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pavelanni/cbtportal/internal/model"
)

// WriteResultsCSV writes one "ExamID,StudentID,Score,Total" line per result.
func WriteResultsCSV(w io.Writer, rows []model.ResultRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ExamID", "StudentID", "Score", "Total"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.ExamID, r.StudentID, strconv.Itoa(r.Score), strconv.Itoa(r.TotalQuestions)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write result %s/%s: %w", r.ExamID, r.StudentID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResultsJSON writes an indented results export followed by a newline.
func WriteResultsJSON(w io.Writer, export model.ResultExport) error {
	if export.Results == nil {
		export.Results = []model.ResultRow{}
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

// WriteStudentsCSV writes the student roster. classNames maps class IDs to names.
func WriteStudentsCSV(w io.Writer, students []model.Student, classNames map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Full Name", "Exam Number", "Class", "Subject Count"}); err != nil {
		return err
	}
	for _, st := range students {
		class := classNames[st.ClassID]
		if class == "" {
			class = "Unknown"
		}
		rec := []string{st.FullName, st.ExamNumber, class, strconv.Itoa(len(st.Subjects))}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
