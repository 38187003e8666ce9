package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

func runCLI(t *testing.T, args ...string) {
	t.Helper()
	cmd := rootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("cbtportal %s: %v", strings.Join(args, " "), err)
	}
}

// seedSubject creates a class and subject in a fresh database file.
func seedSubject(t *testing.T, dbPath string) string {
	t.Helper()
	ctx := context.Background()
	docs, err := docstore.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer docs.Close()
	st, err := store.New(ctx, docs, "cbt")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	classID, err := st.CreateClass(ctx, "JSS 2")
	if err != nil {
		t.Fatalf("CreateClass: %v", err)
	}
	subID, err := st.CreateSubject(ctx, model.Subject{Name: "Basic Science", ClassID: classID})
	if err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	return subID
}

func TestImportQuestionsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "portal.db")
	subID := seedSubject(t, dbPath)

	file := filepath.Join(dir, "science.json")
	data := `[{"text": "Water boils at?", "options": {"A": "100C", "B": "50C"}, "correctOption": "A"}]`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	runCLI(t, "import", "questions", "--db", dbPath, "--subject", subID, file)
	// A second import of the same file is skipped.
	runCLI(t, "import", "questions", "--db", dbPath, "--subject", subID, file)

	docs, err := docstore.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer docs.Close()
	st, err := store.New(context.Background(), docs, "cbt")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	qs, err := st.ListQuestionsBySubject(context.Background(), subID)
	if err != nil {
		t.Fatalf("ListQuestionsBySubject: %v", err)
	}
	if len(qs) != 1 {
		t.Errorf("got %d questions, want 1", len(qs))
	}
}

func TestPinsGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "portal.db")
	out := filepath.Join(dir, "pins.txt")

	runCLI(t, "pins", "generate", "--db", dbPath, "--count", "4", "--pin-max-uses", "2", "--output", out)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), data)
	}
	re := regexp.MustCompile(`^PIN: \d{10} \| Uses: 0/2$`)
	for _, l := range lines {
		if !re.MatchString(l) {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "portal.db")
	seedSubject(t, dbPath)

	jsonOut := filepath.Join(dir, "results.json")
	runCLI(t, "export", "--db", dbPath, "--output", jsonOut)
	data, err := os.ReadFile(jsonOut)
	if err != nil {
		t.Fatal(err)
	}
	var export model.ResultExport
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if export.SchoolName != model.DefaultSettings().SchoolName {
		t.Errorf("school name = %q", export.SchoolName)
	}

	csvOut := filepath.Join(dir, "results.csv")
	runCLI(t, "export", "--db", dbPath, "--format", "csv", "--output", csvOut)
	data, err = os.ReadFile(csvOut)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ExamID,StudentID,Score,Total\n" {
		t.Errorf("csv = %q", data)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"export", "--db", filepath.Join(t.TempDir(), "x.db"), "--format", "xml"})
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for format xml")
	}
}
