package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/cbtportal/internal/model"
)

// custom validation tags & texts
const (
	notBlankTag     = "notblank"
	notBlankText    = "{0} cannot be blank"
	optionLabelTag  = "option_label"
	optionLabelText = "{0} must be one of A, B, C, D"
)

func newValidator() (*validator.Validate, ut.Translator, error) {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, nil, fmt.Errorf("register validator translations: %w", err)
	}

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation(notBlankTag, notBlank); err != nil {
		return nil, nil, err
	}
	if err := v.RegisterValidation(optionLabelTag, validOptionLabel); err != nil {
		return nil, nil, err
	}
	if err := registerCustomTranslation(v, trans, notBlankTag, notBlankText); err != nil {
		return nil, nil, err
	}
	if err := registerCustomTranslation(v, trans, optionLabelTag, optionLabelText); err != nil {
		return nil, nil, err
	}
	return v, trans, nil
}

func registerCustomTranslation(v *validator.Validate, trans ut.Translator, tag, text string) error {
	return v.RegisterTranslation(
		tag, trans,
		func(t ut.Translator) error { return t.Add(tag, text, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func notBlank(fl validator.FieldLevel) bool {
	if s, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return false
}

func validOptionLabel(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case model.OptionLabel:
		return v.Valid()
	case string:
		_, err := model.ParseOptionLabel(v)
		return err == nil
	}
	return false
}

// fieldErrors translates validation errors into a field -> message map.
func (h *Handler) fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(h.trans)
	}
	return out
}
