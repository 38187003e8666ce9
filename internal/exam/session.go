// Package exam runs timed multiple-choice exam sessions and grades them.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/cbtportal/internal/model"
)

// State is the lifecycle position of a session.
type State string

const (
	StateLoading    State = "loading"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateFinished   State = "finished"
	StateAbandoned  State = "abandoned"
)

var (
	ErrNotInProgress    = errors.New("exam session is not in progress")
	ErrTimeUp           = errors.New("exam time is up")
	ErrUnknownQuestion  = errors.New("question is not part of this exam")
	ErrInvalidOption    = errors.New("option is not one of the question's choices")
	ErrSubmitInProgress = errors.New("exam submission already in progress")
	ErrAlreadySubmitted = errors.New("exam already submitted")
)

// SubmitReason records why a session was submitted.
type SubmitReason string

const (
	SubmitManual  SubmitReason = "manual"
	SubmitTimeout SubmitReason = "timeout"
)

// tickInterval is the countdown resolution.
const tickInterval = time.Second

// submitTimeout bounds the result write of an automatic submission.
const submitTimeout = 30 * time.Second

// Session is one student's attempt at one exam. All methods are safe for
// concurrent use.
type Session struct {
	id      string
	exam    model.Exam
	student model.Student
	mgr     *Manager

	mu        sync.Mutex
	state     State
	questions []model.Question
	answers   map[string]model.OptionLabel
	current   int
	remaining int
	timer     Timer
	result    *model.Result
	reason    SubmitReason
	startedAt time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Exam returns the exam being taken.
func (s *Session) Exam() model.Exam { return s.exam }

// Student returns the candidate.
func (s *Session) Student() model.Student { return s.student }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the seconds left on the countdown.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Current returns the index of the question on screen.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Result returns the persisted result once the session is finished.
func (s *Session) Result() *model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// Snapshot is a consistent view of a session for display.
type Snapshot struct {
	ID          string                       `json:"id"`
	ExamID      string                       `json:"examId"`
	SubjectID   string                       `json:"subjectId"`
	StudentID   string                       `json:"studentId"`
	Instruction string                       `json:"instruction"`
	State       State                        `json:"state"`
	Remaining   int                          `json:"remaining"`
	Clock       string                       `json:"clock"`
	Current     int                          `json:"current"`
	Questions   []model.PublicQuestion       `json:"questions"`
	Answers     map[string]model.OptionLabel `json:"answers"`
	Answered    int                          `json:"answered"`
	Result      *model.Result                `json:"result,omitempty"`
	Reason      SubmitReason                 `json:"submitReason,omitempty"`
	StartedAt   time.Time                    `json:"startedAt"`
}

// Snapshot returns the session as shown to the candidate. Correct options are
// never included.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := make([]model.PublicQuestion, len(s.questions))
	for i, q := range s.questions {
		qs[i] = q.Public()
	}
	snap := Snapshot{
		ID:          s.id,
		ExamID:      s.exam.ID,
		SubjectID:   s.exam.SubjectID,
		StudentID:   s.student.ID,
		Instruction: s.exam.Instruction,
		State:       s.state,
		Remaining:   s.remaining,
		Clock:       FormatClock(s.remaining),
		Current:     s.current,
		Questions:   qs,
		Answers:     copyAnswers(s.answers),
		Answered:    len(s.answers),
		Reason:      s.reason,
		StartedAt:   s.startedAt,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// SelectAnswer records the chosen option for a question, replacing any
// earlier choice.
func (s *Session) SelectAnswer(questionID string, label model.OptionLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	if s.remaining <= 0 {
		return ErrTimeUp
	}
	q, ok := s.question(questionID)
	if !ok {
		return fmt.Errorf("%s: %w", questionID, ErrUnknownQuestion)
	}
	if !q.Options.Has(label) {
		return fmt.Errorf("%q: %w", label, ErrInvalidOption)
	}
	s.answers[questionID] = label
	return nil
}

// Next moves to the following question, stopping at the last one.
func (s *Session) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(s.current + 1)
}

// Previous moves to the preceding question, stopping at the first one.
func (s *Session) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(s.current - 1)
}

// JumpTo moves to index, clamped to the question range.
func (s *Session) JumpTo(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(index)
}

func (s *Session) moveTo(i int) int {
	last := len(s.questions) - 1
	if i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	s.current = i
	return s.current
}

func (s *Session) question(id string) (model.Question, bool) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, true
		}
	}
	return model.Question{}, false
}

// Submit grades the session and writes its result. A failed write leaves the
// session in progress so the caller can submit again.
func (s *Session) Submit(ctx context.Context) (*model.Result, error) {
	return s.submit(ctx, SubmitManual)
}

func (s *Session) submit(ctx context.Context, reason SubmitReason) (*model.Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateFinished:
		r := *s.result
		s.mu.Unlock()
		return &r, ErrAlreadySubmitted
	case StateLoading, StateAbandoned:
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	s.state = StateSubmitting
	s.stopTimer()
	result := model.Result{
		StudentID:      s.student.ID,
		ExamID:         s.exam.ID,
		SubjectID:      s.exam.SubjectID,
		Score:          Grade(s.questions, s.answers),
		TotalQuestions: len(s.questions),
		Answers:        copyAnswers(s.answers),
	}
	s.mu.Unlock()

	id, err := s.mgr.store.CreateResult(ctx, result)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateInProgress
		if s.remaining > 0 {
			s.scheduleTick()
		}
		return nil, fmt.Errorf("save result: %w", err)
	}
	result.ID = id
	result.CreatedAt = s.mgr.now()
	s.result = &result
	s.reason = reason
	s.state = StateFinished
	s.mgr.finished(s)

	slog.Info("exam submitted",
		"session_id", s.id,
		"exam_id", s.exam.ID,
		"student_id", s.student.ID,
		"score", result.Score,
		"total", result.TotalQuestions,
		"reason", reason,
	)
	r := result
	return &r, nil
}

// abandon stops the countdown and discards the answers. Nothing is written.
func (s *Session) abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSubmitting:
		return ErrSubmitInProgress
	case StateFinished:
		return ErrAlreadySubmitted
	case StateAbandoned:
		return nil
	}
	s.stopTimer()
	s.state = StateAbandoned
	s.answers = make(map[string]model.OptionLabel)
	return nil
}

// scheduleTick arms the next countdown tick. Caller holds s.mu.
func (s *Session) scheduleTick() {
	d := tickInterval
	if s.remaining <= 0 {
		d = 0
	}
	s.timer = s.mgr.sched.AfterFunc(d, s.tick)
}

// stopTimer cancels the pending tick. Caller holds s.mu.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.scheduleTick()
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	_, err := s.submit(ctx, SubmitTimeout)
	if err != nil && !errors.Is(err, ErrAlreadySubmitted) && !errors.Is(err, ErrNotInProgress) {
		slog.Error("automatic submission failed", "session_id", s.id, "error", err)
	}
}

// Grade counts the questions whose recorded answer equals the correct option.
// Unanswered questions count as wrong.
func Grade(questions []model.Question, answers map[string]model.OptionLabel) int {
	score := 0
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && a == q.CorrectOption {
			score++
		}
	}
	return score
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func copyAnswers(in map[string]model.OptionLabel) map[string]model.OptionLabel {
	out := make(map[string]model.OptionLabel, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
