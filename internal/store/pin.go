package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

// ErrPinRejected is returned by RedeemPin when the PIN is exhausted or bound
// to another student at the moment of the write.
var ErrPinRejected = errors.New("pin rejected")

// CreatePin stores an unused PIN.
func (s *Store) CreatePin(ctx context.Context, code string, maxUses int) (string, error) {
	id, err := s.docs.Add(ctx, s.coll(collPins), docstore.Fields{
		"code":       code,
		"usageCount": 0,
		"maxUses":    maxUses,
		"studentId":  nil,
		"createdAt":  docstore.ServerTimestamp,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return "", fmt.Errorf("pin %s: %w", code, err)
	}
	return id, err
}

// GetPin returns a PIN by ID.
func (s *Store) GetPin(ctx context.Context, id string) (*model.Pin, error) {
	doc, err := s.docs.Get(ctx, s.coll(collPins), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, model.NotFound("pin", id)
	}
	if err != nil {
		return nil, err
	}
	var p model.Pin
	if err := doc.DataTo(&p); err != nil {
		return nil, err
	}
	p.ID = doc.ID
	return &p, nil
}

// GetPinByCode returns the PIN with the code, or nil if none.
func (s *Store) GetPinByCode(ctx context.Context, code string) (*model.Pin, error) {
	docs, err := s.docs.Query(ctx, s.coll(collPins), docstore.Where("code", code))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	pins, err := decodeAll(docs[:1], func(p *model.Pin, id string) { p.ID = id })
	if err != nil {
		return nil, err
	}
	return &pins[0], nil
}

// ListPins returns all PINs.
func (s *Store) ListPins(ctx context.Context) ([]model.Pin, error) {
	docs, err := s.docs.Query(ctx, s.coll(collPins))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *model.Pin, id string) { p.ID = id })
}

// DeletePin removes a PIN.
func (s *Store) DeletePin(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, s.coll(collPins), id)
}

// RedeemPin consumes one use of the PIN and binds it to the student in a single
// atomic write. The write only applies while usageCount < maxUses and the PIN is
// unbound or already bound to the same student.
func (s *Store) RedeemPin(ctx context.Context, pinID, studentID string) error {
	err := s.docs.Apply(ctx, s.coll(collPins), pinID, docstore.Mutation{
		Increment: map[string]int64{"usageCount": 1},
		Set:       docstore.Fields{"studentId": studentID},
		Conditions: []docstore.Condition{
			docstore.FieldLess("usageCount", "maxUses"),
			docstore.FieldUnsetOr("studentId", studentID),
		},
	})
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return model.NotFound("pin", pinID)
	case errors.Is(err, docstore.ErrConditionFailed):
		return fmt.Errorf("pin %s: %w", pinID, ErrPinRejected)
	}
	return err
}
