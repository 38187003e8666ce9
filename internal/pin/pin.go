// Package pin issues scratch-card PINs and redeems them for a student's results.
package pin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/report"
	"github.com/pavelanni/cbtportal/internal/store"
)

// Redemption failures, in the order they are checked.
var (
	ErrStudentNotFound = errors.New("student not found")
	ErrPinNotFound     = errors.New("invalid pin")
	ErrPinExhausted    = errors.New("pin usage exhausted")
	ErrPinLocked       = errors.New("pin is locked to another student")
	ErrNoResultsYet    = errors.New("no results found for this student yet")
)

const (
	codeMin = 1_000_000_000
	codeMax = 9_999_999_999

	maxCodeAttempts = 5
)

// DefaultReceiptTTL is how long a redemption can be printed again without
// consuming another use.
const DefaultReceiptTTL = 30 * time.Minute

// Store is the persistence the service needs.
type Store interface {
	GetStudentByExamNumber(ctx context.Context, examNumber string) (*model.Student, error)
	GetPinByCode(ctx context.Context, code string) (*model.Pin, error)
	GetPin(ctx context.Context, id string) (*model.Pin, error)
	CreatePin(ctx context.Context, code string, maxUses int) (string, error)
	RedeemPin(ctx context.Context, pinID, studentID string) error
	ResultsForStudent(ctx context.Context, studentID string) ([]model.Result, error)
	SubjectNames(ctx context.Context) (map[string]string, error)
}

// Service generates and redeems PINs.
type Service struct {
	store   Store
	maxUses int
	newCode func() (string, error)
	now     func() time.Time

	receiptTTL time.Duration
	afterFunc  func(d time.Duration, f func())

	mu       sync.Mutex
	receipts map[string]Redemption
}

// NewService creates a Service. New PINs get maxUses uses; values below one
// fall back to model.DefaultPinMaxUses.
func NewService(st Store, maxUses int) *Service {
	if maxUses < 1 {
		maxUses = model.DefaultPinMaxUses
	}
	return &Service{
		store:   st,
		maxUses: maxUses,
		newCode: randomCode,
		now:     func() time.Time { return time.Now().UTC() },

		receiptTTL: DefaultReceiptTTL,
		afterFunc:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		receipts:   make(map[string]Redemption),
	}
}

// MaxUses returns the ceiling given to newly generated PINs.
func (s *Service) MaxUses() int { return s.maxUses }

// Redemption is the outcome of a successful redemption.
type Redemption struct {
	Receipt    string         `json:"receipt"`
	Student    model.Student  `json:"student"`
	Results    []model.Result `json:"results"`
	Summary    report.Summary `json:"summary"`
	UsageCount int            `json:"usageCount"`
	MaxUses    int            `json:"maxUses"`
	Remaining  int            `json:"remaining"`
}

// Redeem checks the PIN against the student and, when every check passes,
// consumes one use and returns the student's results. The use is recorded
// with a single conditional write, so concurrent redemptions never take a
// PIN past its ceiling or bind it to two students.
func (s *Service) Redeem(ctx context.Context, examNumber, code string) (*Redemption, error) {
	code = strings.TrimSpace(code)

	student, err := s.store.GetStudentByExamNumber(ctx, examNumber)
	if err != nil {
		return nil, fmt.Errorf("look up student: %w", err)
	}
	if student == nil {
		return nil, ErrStudentNotFound
	}

	p, err := s.store.GetPinByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("look up pin: %w", err)
	}
	if p == nil {
		return nil, ErrPinNotFound
	}
	if p.Exhausted() {
		return nil, ErrPinExhausted
	}
	if p.Bound() && p.StudentID != student.ID {
		return nil, ErrPinLocked
	}

	results, err := s.store.ResultsForStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoResultsYet
	}

	if err := s.store.RedeemPin(ctx, p.ID, student.ID); err != nil {
		if errors.Is(err, store.ErrPinRejected) {
			return nil, s.rejection(ctx, p.ID, student.ID)
		}
		return nil, fmt.Errorf("redeem pin: %w", err)
	}

	// The conditional write only succeeds against the count read above.
	usage := p.UsageCount + 1

	names, err := s.store.SubjectNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subject names: %w", err)
	}

	red := &Redemption{
		Student:    *student,
		Results:    results,
		Summary:    report.Summarize(results, names),
		UsageCount: usage,
		MaxUses:    p.MaxUses,
		Remaining:  max(p.MaxUses-usage, 0),
	}
	red.Receipt = s.keep(*red)
	slog.Info("redeemed pin",
		"pin_id", p.ID,
		"student_id", student.ID,
		"usage", usage,
		"remaining", red.Remaining,
	)
	return red, nil
}

// keep stores red under a fresh receipt id until the receipt TTL passes.
func (s *Service) keep(red Redemption) string {
	id := uuid.NewString()
	red.Receipt = id
	s.mu.Lock()
	s.receipts[id] = red
	s.mu.Unlock()
	s.afterFunc(s.receiptTTL, func() {
		s.mu.Lock()
		delete(s.receipts, id)
		s.mu.Unlock()
	})
	return id
}

// Receipt returns an earlier redemption by its receipt id. It does not touch
// the PIN.
func (s *Service) Receipt(id string) (*Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	red, ok := s.receipts[id]
	if !ok {
		return nil, model.NotFound("receipt", id)
	}
	return &red, nil
}

// rejection explains a conditional write that lost a race.
func (s *Service) rejection(ctx context.Context, pinID, studentID string) error {
	p, err := s.store.GetPin(ctx, pinID)
	if err != nil {
		return fmt.Errorf("re-read pin: %w", err)
	}
	if p.Exhausted() {
		return ErrPinExhausted
	}
	if p.Bound() && p.StudentID != studentID {
		return ErrPinLocked
	}
	return store.ErrPinRejected
}

// Generate creates n unused PINs.
func (s *Service) Generate(ctx context.Context, n int) ([]model.Pin, error) {
	if n < 1 {
		return nil, fmt.Errorf("pin count must be positive, got %d", n)
	}
	pins := make([]model.Pin, 0, n)
	for i := 0; i < n; i++ {
		p, err := s.createOne(ctx)
		if err != nil {
			return pins, err
		}
		pins = append(pins, p)
	}
	slog.Info("generated pins", "count", len(pins), "max_uses", s.maxUses)
	return pins, nil
}

func (s *Service) createOne(ctx context.Context) (model.Pin, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return model.Pin{}, fmt.Errorf("generate code: %w", err)
		}
		id, err := s.store.CreatePin(ctx, code, s.maxUses)
		if errors.Is(err, docstore.ErrAlreadyExists) {
			slog.Debug("pin code collision", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.Pin{}, fmt.Errorf("create pin: %w", err)
		}
		return model.Pin{ID: id, Code: code, MaxUses: s.maxUses, CreatedAt: s.now()}, nil
	}
	return model.Pin{}, fmt.Errorf("no free pin code after %d attempts", maxCodeAttempts)
}

// randomCode returns a uniformly chosen 10-digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(codeMin+n.Int64(), 10), nil
}

// ExportText renders one "PIN: <code> | Uses: <n>/<max>" line per PIN.
func ExportText(pins []model.Pin) string {
	var b strings.Builder
	for i, p := range pins {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "PIN: %s | Uses: %d/%d", p.Code, p.UsageCount, p.MaxUses)
	}
	return b.String()
}
