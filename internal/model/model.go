package model

import (
	"context"
	"time"
)

// Student is a candidate who sits exams and redeems PINs.
type Student struct {
	ID         string   `json:"id"`
	FullName   string   `json:"fullName"`
	ExamNumber string   `json:"examNumber"`
	ClassID    string   `json:"classId"`
	Subjects   []string `json:"subjects"`
}

// TakesSubject reports whether the student is enrolled in the subject.
func (s Student) TakesSubject(subjectID string) bool {
	for _, id := range s.Subjects {
		if id == subjectID {
			return true
		}
	}
	return false
}

// ClassGroup is a named class such as "JSS 1".
type ClassGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Subject belongs to exactly one class.
type Subject struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ClassID string `json:"classId"`
}

// Exam is a timed sitting for one subject.
type Exam struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"classId"`
	SubjectID   string    `json:"subjectId"`
	Duration    int       `json:"duration"` // minutes
	Active      bool      `json:"active"`
	Instruction string    `json:"instruction"`
	StartTime   time.Time `json:"startTime"`
}

// DurationSeconds returns the countdown length of a session of this exam.
func (e Exam) DurationSeconds() int {
	if e.Duration < 0 {
		return 0
	}
	return e.Duration * 60
}

// Result is the graded outcome of one submitted exam session. It is never updated.
type Result struct {
	ID             string                 `json:"id"`
	StudentID      string                 `json:"studentId"`
	ExamID         string                 `json:"examId"`
	SubjectID      string                 `json:"subjectId"`
	Score          int                    `json:"score"`
	TotalQuestions int                    `json:"totalQuestions"`
	Answers        map[string]OptionLabel `json:"answers"`
	CreatedAt      time.Time              `json:"timestamp"`
}

// DefaultPinMaxUses is the usage ceiling given to freshly generated PINs.
const DefaultPinMaxUses = 3

// Pin is a scratch-card code with bounded reuse.
type Pin struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	StudentID  string    `json:"studentId,omitempty"`
	UsageCount int       `json:"usageCount"`
	MaxUses    int       `json:"maxUses"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Exhausted reports whether the PIN has no uses left.
func (p Pin) Exhausted() bool {
	return p.UsageCount >= p.MaxUses
}

// Remaining returns the number of uses left, never negative.
func (p Pin) Remaining() int {
	if p.UsageCount >= p.MaxUses {
		return 0
	}
	return p.MaxUses - p.UsageCount
}

// Bound reports whether the PIN is locked to a student.
func (p Pin) Bound() bool {
	return p.StudentID != ""
}

// SiteSettings is the singleton display configuration edited by administrators.
type SiteSettings struct {
	WelcomeMessage     string `json:"welcomeMessage"`
	ExamInstructions   string `json:"examInstructions"`
	ResultInstructions string `json:"resultInstructions"`
	FooterText         string `json:"footerText"`
	AdminName          string `json:"adminName"`
	AdminMessage       string `json:"adminMessage"`
	SchoolName         string `json:"schoolName"`
	ThemeColor         string `json:"themeColor"`
}

// DefaultSettings returns the settings used until an administrator saves their own.
func DefaultSettings() SiteSettings {
	return SiteSettings{
		WelcomeMessage:     "Welcome to the school CBT and result portal.",
		ExamInstructions:   "Read each question carefully. The exam submits automatically when the timer runs out.",
		ResultInstructions: "Enter your Exam Number and Scratch Card PIN to view results.",
		FooterText:         "Powered by CBT Portal",
		AdminName:          "Principal",
		AdminMessage:       "Keep up the good work.",
		SchoolName:         "Our School",
		ThemeColor:         "blue",
	}
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Shuffle       bool   // randomize question order at session start
	PinMaxUses    int    // usage ceiling for newly generated PINs
	BasePath      string // URL prefix for sub-path deployments (e.g. "/cbt")
	Lang          string // default UI language
	AdviceEnabled bool   // LLM endpoint configured
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
