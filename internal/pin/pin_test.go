package pin

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/report"
	"github.com/pavelanni/cbtportal/internal/store"
)

type fixture struct {
	store   *store.Store
	svc     *Service
	ada     model.Student
	bola    model.Student
	subject string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	docs, err := docstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { docs.Close() })
	st, err := store.New(ctx, docs, "test")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	classID, _ := st.CreateClass(ctx, "SS 3")
	subID, _ := st.CreateSubject(ctx, model.Subject{Name: "Mathematics", ClassID: classID})
	f := &fixture{store: st, svc: NewService(st, 3), subject: subID}
	for _, s := range []struct {
		name, number string
		dst          *model.Student
	}{
		{"Ada Obi", "IF/2025/001", &f.ada},
		{"Bola Ade", "IF/2025/002", &f.bola},
	} {
		id, err := st.CreateStudent(ctx, model.Student{FullName: s.name, ExamNumber: s.number, ClassID: classID})
		if err != nil {
			t.Fatalf("CreateStudent: %v", err)
		}
		got, _ := st.GetStudent(ctx, id)
		*s.dst = *got
	}
	return f
}

func (f *fixture) addResult(t *testing.T, studentID string, score, total int) {
	t.Helper()
	_, err := f.store.CreateResult(context.Background(), model.Result{
		StudentID:      studentID,
		ExamID:         "exam-1",
		SubjectID:      f.subject,
		Score:          score,
		TotalQuestions: total,
	})
	if err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
}

func (f *fixture) addPin(t *testing.T, code string, maxUses int) string {
	t.Helper()
	id, err := f.store.CreatePin(context.Background(), code, maxUses)
	if err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	return id
}

func (f *fixture) pin(t *testing.T, id string) *model.Pin {
	t.Helper()
	p, err := f.store.GetPin(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPin: %v", err)
	}
	return p
}

func TestRedeemScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult(t, f.ada.ID, 2, 2)
	pinID := f.addPin(t, "1234567890", 3)

	red, err := f.svc.Redeem(ctx, "IF/2025/001", "1234567890")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if red.Student.ID != f.ada.ID {
		t.Errorf("expected Ada, got %s", red.Student.FullName)
	}
	if len(red.Results) != 1 || red.Results[0].Score != 2 || red.Results[0].TotalQuestions != 2 {
		t.Errorf("unexpected results %+v", red.Results)
	}
	if red.Summary.Rows[0].SubjectName != "Mathematics" {
		t.Errorf("expected subject name joined, got %q", red.Summary.Rows[0].SubjectName)
	}
	if red.UsageCount != 1 || red.Remaining != 2 {
		t.Errorf("expected usage 1 with 2 remaining, got %d/%d", red.UsageCount, red.Remaining)
	}

	p := f.pin(t, pinID)
	if p.UsageCount != 1 || p.StudentID != f.ada.ID {
		t.Errorf("expected pin bound to Ada with one use, got %+v", p)
	}

	f.addResult(t, f.bola.ID, 1, 2)
	_, err = f.svc.Redeem(ctx, "IF/2025/002", "1234567890")
	if !errors.Is(err, ErrPinLocked) {
		t.Fatalf("expected ErrPinLocked, got %v", err)
	}
	if p := f.pin(t, pinID); p.UsageCount != 1 || p.StudentID != f.ada.ID {
		t.Errorf("locked attempt must not change the pin, got %+v", p)
	}
}

func TestRedeemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult(t, f.ada.ID, 8, 10)
	f.addPin(t, "1111111111", 3)
	f.addPin(t, "2222222222", 1)
	if _, err := f.svc.Redeem(ctx, "IF/2025/001", "2222222222"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	tests := []struct {
		name       string
		examNumber string
		code       string
		want       error
	}{
		{"unknown student", "IF/2025/999", "1111111111", ErrStudentNotFound},
		{"unknown pin", "IF/2025/001", "0000000000", ErrPinNotFound},
		{"exhausted pin", "IF/2025/001", "2222222222", ErrPinExhausted},
		{"no results", "IF/2025/002", "1111111111", ErrNoResultsYet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Redeem(ctx, tt.examNumber, tt.code)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	p, _ := f.store.GetPinByCode(ctx, "1111111111")
	if p.UsageCount != 0 || p.Bound() {
		t.Errorf("failed redemptions must not consume or bind, got %+v", p)
	}
}

func TestRedeemNormalizesInput(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.ada.ID, 5, 10)
	f.addPin(t, "3333333333", 3)
	if _, err := f.svc.Redeem(context.Background(), " if/2025/001 ", " 3333333333 "); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
}

func TestRedeemCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult(t, f.ada.ID, 8, 10)
	f.addResult(t, f.ada.ID, 3, 10)
	pinID := f.addPin(t, "4444444444", 3)

	for i := 1; i <= 3; i++ {
		red, err := f.svc.Redeem(ctx, "IF/2025/001", "4444444444")
		if err != nil {
			t.Fatalf("redemption %d: %v", i, err)
		}
		if red.Remaining != 3-i {
			t.Errorf("redemption %d: expected %d remaining, got %d", i, 3-i, red.Remaining)
		}
		if red.Summary.TotalScore != 11 || red.Summary.AverageText != "5.5" || red.Summary.Verdict != report.Failed {
			t.Errorf("unexpected summary %+v", red.Summary)
		}
	}
	if _, err := f.svc.Redeem(ctx, "IF/2025/001", "4444444444"); !errors.Is(err, ErrPinExhausted) {
		t.Errorf("expected ErrPinExhausted, got %v", err)
	}
	if p := f.pin(t, pinID); p.UsageCount != 3 {
		t.Errorf("usage must stop at the ceiling, got %d", p.UsageCount)
	}
}

func TestConcurrentRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult(t, f.ada.ID, 8, 10)
	f.addResult(t, f.bola.ID, 6, 10)
	pinID := f.addPin(t, "5555555555", 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := map[string]int{}
	for i := 0; i < 20; i++ {
		number := "IF/2025/001"
		if i%2 == 1 {
			number = "IF/2025/002"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			red, err := f.svc.Redeem(ctx, number, "5555555555")
			if err != nil {
				if !errors.Is(err, ErrPinExhausted) && !errors.Is(err, ErrPinLocked) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			ok[red.Student.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ok) != 1 {
		t.Errorf("pin must serve a single student, served %v", ok)
	}
	total := 0
	for _, n := range ok {
		total += n
	}
	if total != 3 {
		t.Errorf("expected exactly 3 successful redemptions, got %d", total)
	}
	p := f.pin(t, pinID)
	if p.UsageCount != 3 {
		t.Errorf("expected usage 3, got %d", p.UsageCount)
	}
	if _, served := ok[p.StudentID]; !served {
		t.Errorf("pin bound to %s but served %v", p.StudentID, ok)
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pins, err := f.svc.Generate(ctx, 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(pins) != 10 {
		t.Fatalf("expected 10 pins, got %d", len(pins))
	}
	seen := map[string]bool{}
	for _, p := range pins {
		n, err := strconv.ParseInt(p.Code, 10, 64)
		if err != nil || len(p.Code) != 10 || n < codeMin || n > codeMax {
			t.Errorf("bad code %q", p.Code)
		}
		if seen[p.Code] {
			t.Errorf("duplicate code %q", p.Code)
		}
		seen[p.Code] = true
		stored := f.pin(t, p.ID)
		if stored.UsageCount != 0 || stored.MaxUses != 3 || stored.Bound() || stored.CreatedAt.IsZero() {
			t.Errorf("unexpected stored pin %+v", stored)
		}
	}

	if _, err := f.svc.Generate(ctx, 0); err == nil {
		t.Error("expected error for zero count")
	}
}

func TestGenerateRetriesCollisions(t *testing.T) {
	f := newFixture(t)
	f.addPin(t, "6666666666", 3)
	codes := []string{"6666666666", "6666666666", "7777777777"}
	f.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	pins, err := f.svc.Generate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pins[0].Code != "7777777777" {
		t.Errorf("expected the first free code, got %s", pins[0].Code)
	}

	f.svc.newCode = func() (string, error) { return "6666666666", nil }
	if _, err := f.svc.Generate(context.Background(), 1); err == nil {
		t.Error("expected error when every code collides")
	}
}

func TestNewServiceDefaultsMaxUses(t *testing.T) {
	if got := NewService(nil, 0).MaxUses(); got != model.DefaultPinMaxUses {
		t.Errorf("MaxUses = %d, want %d", got, model.DefaultPinMaxUses)
	}
}

func TestExportText(t *testing.T) {
	pins := []model.Pin{
		{Code: "1234567890", UsageCount: 0, MaxUses: 3},
		{Code: "9876543210", UsageCount: 2, MaxUses: 3},
	}
	want := "PIN: 1234567890 | Uses: 0/3\nPIN: 9876543210 | Uses: 2/3"
	if got := ExportText(pins); got != want {
		t.Errorf("ExportText =\n%s\nwant\n%s", got, want)
	}
	if got := ExportText(nil); got != "" {
		t.Errorf("expected empty export, got %q", got)
	}
	if !strings.HasPrefix(ExportText(pins[:1]), "PIN: ") {
		t.Error("missing prefix")
	}
}

// racingStore lets another redemption of the same PIN land right after each
// write made through it.
type racingStore struct {
	*store.Store
	studentID string
}

func (r racingStore) RedeemPin(ctx context.Context, pinID, studentID string) error {
	if err := r.Store.RedeemPin(ctx, pinID, studentID); err != nil {
		return err
	}
	return r.Store.RedeemPin(ctx, pinID, r.studentID)
}

func TestRedeemReportsItsOwnUse(t *testing.T) {
	f := newFixture(t)
	f.addResult(t, f.ada.ID, 5, 10)
	pinID := f.addPin(t, "8888888888", 3)

	svc := NewService(racingStore{Store: f.store, studentID: f.ada.ID}, 3)
	red, err := svc.Redeem(context.Background(), "IF/2025/001", "8888888888")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if red.UsageCount != 1 || red.Remaining != 2 {
		t.Errorf("expected usage 1 with 2 remaining, got %d/%d", red.UsageCount, red.Remaining)
	}
	if p := f.pin(t, pinID); p.UsageCount != 2 {
		t.Errorf("expected both writes stored, got usage %d", p.UsageCount)
	}
}

func TestReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult(t, f.ada.ID, 7, 10)
	pinID := f.addPin(t, "9999999999", 3)

	var expire []func()
	f.svc.afterFunc = func(_ time.Duration, fn func()) { expire = append(expire, fn) }

	red, err := f.svc.Redeem(ctx, "IF/2025/001", "9999999999")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if red.Receipt == "" {
		t.Fatal("expected a receipt id")
	}

	got, err := f.svc.Receipt(red.Receipt)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if got.Student.ID != f.ada.ID || got.Remaining != 2 || got.Summary.TotalScore != 7 {
		t.Errorf("unexpected receipt %+v", got)
	}
	if p := f.pin(t, pinID); p.UsageCount != 1 {
		t.Errorf("reading a receipt must not spend a use, got usage %d", p.UsageCount)
	}

	if len(expire) != 1 {
		t.Fatalf("expected one expiry scheduled, got %d", len(expire))
	}
	expire[0]()
	var nf *model.NotFoundError
	if _, err := f.svc.Receipt(red.Receipt); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError after expiry, got %v", err)
	}
	if _, err := f.svc.Receipt("missing"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError for unknown receipt, got %v", err)
	}
}
