package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Default is the embedded template set.
var Default fs.FS = templateFS

var (
	topicTagRegex           = regexp.MustCompile(`(?i)</?\s*topic\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Kind names a prompt template.
type Kind string

const (
	// KindQuestions asks for a batch of multiple-choice questions.
	KindQuestions Kind = "questions"
	// KindAdvice asks for a short advice paragraph on a result sheet.
	KindAdvice Kind = "advice"
)

const (
	maxTopicRunes = 200
	maxNameRunes  = 100

	// AdviceSentences caps the advice paragraph.
	AdviceSentences = 3
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// QuestionsData holds template data for question generation prompts.
type QuestionsData struct {
	Subject string
	Topic   string
	Count   int
}

// AdviceData holds template data for advice prompts.
type AdviceData struct {
	StudentName  string
	Performance  string
	MaxSentences int
}

// Load loads prompt templates from fsys, which must contain templates/<kind>.txt.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Kind]*template.Template)
		for _, k := range []Kind{KindQuestions, KindAdvice} {
			file := "templates/" + string(k) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(k)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[k] = tmpl
		}
	})
	return loadErr
}

func execute(k Kind, data any) (string, error) {
	if err := Load(Default); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[k]
	if !ok {
		return "", errors.New("unknown prompt kind: " + string(k))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildQuestionsPrompt builds the prompt asking for n questions on topic.
func BuildQuestionsPrompt(subject, topic string, n int) (string, error) {
	topic = sanitize(topic, maxTopicRunes)
	if topic == "" {
		return "", errors.New("topic is required")
	}
	if n < 1 {
		return "", fmt.Errorf("question count must be positive, got %d", n)
	}
	return execute(KindQuestions, QuestionsData{
		Subject: sanitize(subject, maxNameRunes),
		Topic:   topic,
		Count:   n,
	})
}

// BuildAdvicePrompt builds the advice prompt. performance is one
// "<subject>: <score>/<total>" entry per result.
func BuildAdvicePrompt(studentName string, performance []string) (string, error) {
	if len(performance) == 0 {
		return "", errors.New("no results to analyze")
	}
	return execute(KindAdvice, AdviceData{
		StudentName:  sanitize(studentName, maxNameRunes),
		Performance:  strings.Join(performance, ", "),
		MaxSentences: AdviceSentences,
	})
}

func sanitize(s string, limit int) string {
	s = topicTagRegex.ReplaceAllString(s, "")
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return s
}
