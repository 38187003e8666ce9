// Package views renders the printable HTML pages of the portal.
package views

//go:generate templ generate

import (
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/report"
)

// ResultSheetData is everything printed on a student's report sheet.
type ResultSheetData struct {
	Settings  model.SiteSettings
	Student   model.Student
	Summary   report.Summary
	Remaining int
	Advice    string
}
