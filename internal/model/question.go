package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// OptionLabel names one of the fixed answer slots of a multiple-choice question.
type OptionLabel string

const (
	OptionA OptionLabel = "A"
	OptionB OptionLabel = "B"
	OptionC OptionLabel = "C"
	OptionD OptionLabel = "D"
)

// OptionLabels lists the labels in display order.
var OptionLabels = [...]OptionLabel{OptionA, OptionB, OptionC, OptionD}

// Index returns the slot of the label, or -1 if it is not a known label.
func (l OptionLabel) Index() int {
	for i, o := range OptionLabels {
		if o == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of A-D.
func (l OptionLabel) Valid() bool {
	return l.Index() >= 0
}

// ParseOptionLabel normalizes user input such as " b " to a label.
func ParseOptionLabel(s string) (OptionLabel, error) {
	l := OptionLabel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown option label %q", s)
	}
	return l, nil
}

// Options holds the option texts in label order. It encodes as {"A": "...", ...}.
type Options [len(OptionLabels)]string

// Get returns the text of the option with the given label.
func (o Options) Get(l OptionLabel) (string, bool) {
	i := l.Index()
	if i < 0 {
		return "", false
	}
	return o[i], o[i] != ""
}

// Has reports whether the option exists and has text.
func (o Options) Has(l OptionLabel) bool {
	_, ok := o.Get(l)
	return ok
}

// Labels returns the labels that have text, in order.
func (o Options) Labels() []OptionLabel {
	var out []OptionLabel
	for i, text := range o {
		if text != "" {
			out = append(out, OptionLabels[i])
		}
	}
	return out
}

func (o Options) MarshalJSON() ([]byte, error) {
	m := make(map[OptionLabel]string, len(o))
	for i, text := range o {
		m[OptionLabels[i]] = text
	}
	return json.Marshal(m)
}

func (o *Options) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Options
	var unknown []string
	for k, v := range m {
		l, err := ParseOptionLabel(k)
		if err != nil {
			unknown = append(unknown, k)
			continue
		}
		out[l.Index()] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown option labels: %s", strings.Join(unknown, ", "))
	}
	*o = out
	return nil
}

// Question is a multiple-choice item in a subject's question bank.
type Question struct {
	ID            string      `json:"id"`
	ClassID       string      `json:"classId"`
	SubjectID     string      `json:"subjectId"`
	Text          string      `json:"text"`
	Image         string      `json:"image,omitempty"`
	Options       Options     `json:"options"`
	CorrectOption OptionLabel `json:"correctOption"`
}

var (
	ErrQuestionText    = errors.New("question text is required")
	ErrQuestionOptions = errors.New("question needs at least two options")
	ErrCorrectOption   = errors.New("correct option must be one of the question's options")
)

// Validate checks that the question can be graded: the correct option must name
// an option that has text.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrQuestionText
	}
	if len(q.Options.Labels()) < 2 {
		return ErrQuestionOptions
	}
	if !q.Options.Has(q.CorrectOption) {
		return ErrCorrectOption
	}
	return nil
}

// Public returns a copy safe to send to a candidate, without the answer key.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:      q.ID,
		Text:    q.Text,
		Image:   q.Image,
		Options: q.Options,
	}
}

// PublicQuestion is a question as shown during an exam.
type PublicQuestion struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Image   string  `json:"image,omitempty"`
	Options Options `json:"options"`
}
