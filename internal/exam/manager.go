package exam

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/cbtportal/internal/model"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The wall-clock implementation wraps
// time.AfterFunc; tests substitute a manual one.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Shuffler permutes n elements through swap. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalRand struct{}

func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Store is the persistence the manager needs.
type Store interface {
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	ListQuestionsBySubject(ctx context.Context, subjectID string) ([]model.Question, error)
	CreateResult(ctx context.Context, r model.Result) (string, error)
}

// DefaultRetention is how long a finished session stays retrievable.
const DefaultRetention = 30 * time.Minute

// Manager starts sessions and keeps them addressable by id.
type Manager struct {
	store     Store
	sched     Scheduler
	shuffle   bool
	retention time.Duration
	now       func() time.Time

	randMu sync.Mutex
	rnd    Shuffler

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithShuffle turns question shuffling on or off. It is on by default.
func WithShuffle(on bool) Option {
	return func(m *Manager) { m.shuffle = on }
}

// WithRand sets the source used to shuffle questions.
func WithRand(r Shuffler) Option {
	return func(m *Manager) { m.rnd = r }
}

// WithRetention sets how long finished sessions are kept.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// NewManager creates a Manager backed by st.
func NewManager(st Store, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		sched:     wallClock{},
		shuffle:   true,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		rnd:       globalRand{},
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start loads the exam and its question bank and begins the countdown.
func (m *Manager) Start(ctx context.Context, examID string, student model.Student) (*Session, error) {
	s := &Session{
		id:        uuid.NewString(),
		student:   student,
		mgr:       m,
		state:     StateLoading,
		answers:   make(map[string]model.OptionLabel),
		startedAt: m.now(),
	}

	exam, err := m.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := m.store.ListQuestionsBySubject(ctx, exam.SubjectID)
	if err != nil {
		return nil, err
	}
	if m.shuffle {
		m.randMu.Lock()
		m.rnd.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
		m.randMu.Unlock()
	}

	s.mu.Lock()
	s.exam = *exam
	s.questions = questions
	s.remaining = exam.DurationSeconds()
	s.state = StateInProgress
	s.scheduleTick()
	s.mu.Unlock()

	m.mu.Lock()
	earlier := m.inProgress(student.ID, exam.ID)
	m.sessions[s.id] = s
	m.mu.Unlock()

	for _, prev := range earlier {
		if err := m.drop(prev); err == nil {
			slog.Info("exam session replaced", "session_id", prev.id, "replaced_by", s.id)
		}
	}

	slog.Info("exam session started",
		"session_id", s.id,
		"exam_id", exam.ID,
		"student_id", student.ID,
		"questions", len(questions),
		"seconds", exam.DurationSeconds(),
	)
	return s, nil
}

// Get returns a live or recently finished session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, model.NotFound("session", id)
	}
	return s, nil
}

// Abandon discards a session that has not been submitted. Its countdown
// stops and no result is written. Finished sessions are left alone and
// report ErrAlreadySubmitted.
func (m *Manager) Abandon(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.drop(s); err != nil {
		return err
	}
	slog.Info("exam session abandoned", "session_id", id, "exam_id", s.exam.ID, "student_id", s.student.ID)
	return nil
}

func (m *Manager) drop(s *Session) error {
	if err := s.abandon(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	return nil
}

// inProgress lists the running sessions of a student for an exam. Caller
// holds m.mu.
func (m *Manager) inProgress(studentID, examID string) []*Session {
	var out []*Session
	for _, s := range m.sessions {
		if s.student.ID == studentID && s.exam.ID == examID && s.State() == StateInProgress {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// finished schedules removal of s after the retention period.
func (m *Manager) finished(s *Session) {
	m.sched.AfterFunc(m.retention, func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
	})
}
