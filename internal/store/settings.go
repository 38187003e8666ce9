package store

import (
	"context"
	"errors"

	"github.com/pavelanni/cbtportal/internal/docstore"
	"github.com/pavelanni/cbtportal/internal/model"
)

const settingsDocID = "general_settings"

// GetSettings returns the site settings, or the defaults if none were saved.
func (s *Store) GetSettings(ctx context.Context) (model.SiteSettings, error) {
	doc, err := s.docs.Get(ctx, s.coll(collSettings), settingsDocID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.SiteSettings{}, err
	}
	settings := model.DefaultSettings()
	if err := doc.DataTo(&settings); err != nil {
		return model.SiteSettings{}, err
	}
	return settings, nil
}

// SaveSettings replaces the site settings document.
func (s *Store) SaveSettings(ctx context.Context, st model.SiteSettings) error {
	return s.docs.Set(ctx, s.coll(collSettings), settingsDocID, docstore.Fields{
		"welcomeMessage":     st.WelcomeMessage,
		"examInstructions":   st.ExamInstructions,
		"resultInstructions": st.ResultInstructions,
		"footerText":         st.FooterText,
		"adminName":          st.AdminName,
		"adminMessage":       st.AdminMessage,
		"schoolName":         st.SchoolName,
		"themeColor":         st.ThemeColor,
	})
}

// SeedSettings saves the defaults if no settings document exists yet.
func (s *Store) SeedSettings(ctx context.Context) (bool, error) {
	_, err := s.docs.Get(ctx, s.coll(collSettings), settingsDocID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return false, err
	}
	return true, s.SaveSettings(ctx, model.DefaultSettings())
}
