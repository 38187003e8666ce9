package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/cbtportal/internal/llm/prompts"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/report"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultQuestionCount is the batch size of one generation request.
const DefaultQuestionCount = 3

// GenerationError reports a failed or unusable model response.
type GenerationError struct {
	Op  string
	Raw string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.Load(prompts.Default); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return &GenerationError{Op: "ping", Err: err}
	}
	return nil
}

// GenerateQuestions asks the model for n questions on topic and returns the
// ones that validate. SubjectID is left for the caller to fill in.
func (c *Client) GenerateQuestions(ctx context.Context, subjectName, topic string, n int) ([]model.Question, error) {
	if n <= 0 {
		n = DefaultQuestionCount
	}
	prompt, err := prompts.BuildQuestionsPrompt(subjectName, topic, n)
	if err != nil {
		return nil, &GenerationError{Op: "generate questions", Err: err}
	}

	raw, err := c.complete(ctx, "generate questions", prompt, 0.7)
	if err != nil {
		return nil, err
	}

	var questions []model.Question
	if err := json.Unmarshal([]byte(StripFences(raw)), &questions); err != nil {
		return nil, &GenerationError{Op: "generate questions", Raw: raw, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(questions) == 0 {
		return nil, &GenerationError{Op: "generate questions", Raw: raw, Err: errors.New("no questions returned")}
	}
	for i := range questions {
		questions[i].ID = ""
		if err := questions[i].Validate(); err != nil {
			return nil, &GenerationError{Op: "generate questions", Raw: raw, Err: fmt.Errorf("question %d: %w", i+1, err)}
		}
	}
	slog.Info("generated questions", "subject", subjectName, "count", len(questions))
	return questions, nil
}

// Advice writes a short encouraging paragraph about a result sheet.
func (c *Client) Advice(ctx context.Context, studentName string, rows []report.Row) (string, error) {
	performance := make([]string, len(rows))
	for i, r := range rows {
		performance[i] = fmt.Sprintf("%s: %d/%d", r.SubjectName, r.Score, r.TotalQuestions)
	}
	prompt, err := prompts.BuildAdvicePrompt(studentName, performance)
	if err != nil {
		return "", &GenerationError{Op: "advice", Err: err}
	}
	raw, err := c.complete(ctx, "advice", prompt, 0.7)
	if err != nil {
		return "", err
	}
	advice := FirstSentences(strings.TrimSpace(raw), prompts.AdviceSentences)
	if advice == "" {
		return "", &GenerationError{Op: "advice", Raw: raw, Err: errors.New("empty response")}
	}
	return advice, nil
}

func (c *Client) complete(ctx context.Context, op, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", &GenerationError{Op: op, Err: fmt.Errorf("LLM API call: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Op: op, Err: errors.New("LLM returned no choices")}
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "op", op, "raw", raw)
	return raw, nil
}

// StripFences removes markdown code fences around a JSON payload.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// FirstSentences keeps at most n sentences of s.
func FirstSentences(s string, n int) string {
	count := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + 1
		if next < len(s) && s[next] != ' ' && s[next] != '\n' {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(s[:next])
		}
	}
	return strings.TrimSpace(s)
}
