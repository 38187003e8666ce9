package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/cbtportal/internal/docstore"
)

// Collection names, stored under the configured prefix.
const (
	collClasses   = "classes"
	collSubjects  = "subjects"
	collStudents  = "students"
	collQuestions = "questions"
	collExams     = "exams"
	collResults   = "results"
	collPins      = "pins"
	collSettings  = "settings"
	collImports   = "imports"
)

// ErrDuplicateExamNumber is returned when a student's exam number is taken.
var ErrDuplicateExamNumber = errors.New("exam number already registered")

// Store exposes the portal's collections on top of a document store.
type Store struct {
	docs   docstore.Store
	prefix string
}

// New wraps docs. Collections are named "<prefix>_<name>" when prefix is set.
func New(ctx context.Context, docs docstore.Store, prefix string) (*Store, error) {
	s := &Store{docs: docs, prefix: prefix}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.docs.EnsureUnique(ctx, s.coll(collStudents), "examNumber"); err != nil {
		return err
	}
	return s.docs.EnsureUnique(ctx, s.coll(collPins), "code")
}

func (s *Store) coll(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

// decodeAll decodes documents into values of T and stamps their ids.
func decodeAll[T any](docs []docstore.Document, setID func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.DataTo(&v); err != nil {
			return nil, err
		}
		setID(&v, d.ID)
		out = append(out, v)
	}
	return out, nil
}
