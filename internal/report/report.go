// Package report turns a student's graded results into a result sheet.
package report

import (
	"math"
	"strconv"

	"github.com/pavelanni/cbtportal/internal/model"
)

// Verdict is the overall outcome printed on a result sheet.
type Verdict string

const (
	Passed Verdict = "PASSED"
	Failed Verdict = "FAILED"
)

// PassMark is compared against the whole-number part of the average.
const PassMark = 50

// UnknownSubject is shown for results whose subject no longer exists.
const UnknownSubject = "Unknown"

// Row is one subject line of a result sheet.
type Row struct {
	ResultID       string  `json:"resultId"`
	ExamID         string  `json:"examId"`
	SubjectID      string  `json:"subjectId"`
	SubjectName    string  `json:"subjectName"`
	Score          int     `json:"score"`
	TotalQuestions int     `json:"totalQuestions"`
	Percent        float64 `json:"percent"`
	Grade          string  `json:"grade"`
}

// Summary is the computed result sheet.
type Summary struct {
	Rows            []Row   `json:"rows"`
	TotalScore      int     `json:"totalScore"`
	TotalObtainable int     `json:"totalObtainable"`
	Average         float64 `json:"average"`
	AverageText     string  `json:"averageText"`
	Verdict         Verdict `json:"verdict"`
}

// Summarize computes totals, the one-decimal average of raw scores, letter
// grades and the verdict. subjectNames maps subject IDs to display names.
//
// The average is a mean of raw scores, not percentages, and is still compared
// with PassMark. Result sheets issued so far were computed this way.
func Summarize(results []model.Result, subjectNames map[string]string) Summary {
	var s Summary
	s.Rows = make([]Row, 0, len(results))
	for _, r := range results {
		name, ok := subjectNames[r.SubjectID]
		if !ok || name == "" {
			name = UnknownSubject
		}
		pct := Percent(r.Score, r.TotalQuestions)
		s.Rows = append(s.Rows, Row{
			ResultID:       r.ID,
			ExamID:         r.ExamID,
			SubjectID:      r.SubjectID,
			SubjectName:    name,
			Score:          r.Score,
			TotalQuestions: r.TotalQuestions,
			Percent:        pct,
			Grade:          LetterGrade(pct),
		})
		s.TotalScore += r.Score
		s.TotalObtainable += r.TotalQuestions
	}
	s.Average = Average(s.TotalScore, len(results))
	s.AverageText = FormatAverage(s.Average)
	s.Verdict = VerdictFor(s.Average)
	return s
}

// Percent returns score/total*100, or 0 for an empty exam.
func Percent(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(score) / float64(total) * 100
}

// LetterGrade maps a percentage to A-F. Each band includes its lower edge.
func LetterGrade(percent float64) string {
	switch {
	case percent >= 70:
		return "A"
	case percent >= 60:
		return "B"
	case percent >= 50:
		return "C"
	case percent >= 40:
		return "D"
	default:
		return "F"
	}
}

// Average returns totalScore/count rounded to one decimal, or 0 when count is 0.
func Average(totalScore, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(float64(totalScore)/float64(count)*10) / 10
}

// FormatAverage renders an average with exactly one decimal.
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 1, 64)
}

// VerdictFor passes when the whole-number part of the rounded average reaches PassMark.
func VerdictFor(avg float64) Verdict {
	if math.Floor(avg) >= PassMark {
		return Passed
	}
	return Failed
}
