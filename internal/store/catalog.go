package store

import (
	"context"
	"errors"
	"strings"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// CreateClass adds a class group.
func (s *Store) CreateClass(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("class name is required")
	}
	return s.docs.Add(ctx, s.coll(collClasses), docstore.Fields{"name": name})
}

// ListClasses returns all classes.
func (s *Store) ListClasses(ctx context.Context) ([]model.ClassGroup, error) {
	docs, err := s.docs.Query(ctx, s.coll(collClasses))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(c *model.ClassGroup, id string) { c.ID = id })
}

// DeleteClass removes a class. Subjects and students referencing it are left alone.
func (s *Store) DeleteClass(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collClasses), id)
}

// CreateSubject adds a subject to a class.
func (s *Store) CreateSubject(ctx context.Context, sub model.Subject) (string, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	if sub.Name == "" || sub.ClassID == "" {
		return "", errors.New("subject name and class are required")
	}
	return s.docs.Add(ctx, s.coll(collSubjects), docstore.Fields{
		"name":    sub.Name,
		"classId": sub.ClassID,
	})
}

// GetSubject returns a subject by ID.
func (s *Store) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	doc, err := s.docs.Get(ctx, s.coll(collSubjects), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, model.NotFound("subject", id)
	}
	if err != nil {
		return nil, err
	}
	var sub model.Subject
	if err := doc.DataTo(&sub); err != nil {
		return nil, err
	}
	sub.ID = doc.ID
	return &sub, nil
}

// ListSubjects returns all subjects.
func (s *Store) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	docs, err := s.docs.Query(ctx, s.coll(collSubjects))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(sub *model.Subject, id string) { sub.ID = id })
}

// ListSubjectsForClass returns the subjects taught in a class.
func (s *Store) ListSubjectsForClass(ctx context.Context, classID string) ([]model.Subject, error) {
	docs, err := s.docs.Query(ctx, s.coll(collSubjects), docstore.Where("classId", classID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(sub *model.Subject, id string) { sub.ID = id })
}

// SubjectNames maps subject IDs to names.
func (s *Store) SubjectNames(ctx context.Context) (map[string]string, error) {
	subjects, err := s.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(subjects))
	for _, sub := range subjects {
		names[sub.ID] = sub.Name
	}
	return names, nil
}

// DeleteSubject removes a subject.
func (s *Store) DeleteSubject(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collSubjects), id)
}
