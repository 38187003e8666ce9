package llm

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/report"
)

// newFakeLLM serves chat completions that always answer with content.
func newFakeLLM(t *testing.T, content string, status int) (*Client, *[]string) {
	t.Helper()
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-model","object":"model"}]}`))
			return
		case "/v1/chat/completions":
		default:
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			prompts = append(prompts, m.Content)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"backend down","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/v1", "test-key", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &prompts
}

const generated = "```json\n" + `[
  {"text": "2 + 2 = ?", "options": {"A": "3", "B": "4", "C": "5", "D": "6"}, "correctOption": "B"},
  {"text": "5 x 3 = ?", "options": {"A": "15", "B": "8", "C": "53", "D": "2"}, "correctOption": "A"},
  {"text": "10 / 2 = ?", "options": {"A": "2", "B": "20", "C": "5", "D": "12"}, "correctOption": "C"}
]` + "\n```"

func TestGenerateQuestions(t *testing.T) {
	c, prompts := newFakeLLM(t, generated, http.StatusOK)

	qs, err := c.GenerateQuestions(t.Context(), "Mathematics", "Arithmetic", 0)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	if qs[0].CorrectOption != model.OptionB || qs[0].Options[1] != "4" {
		t.Errorf("unexpected first question %+v", qs[0])
	}
	if len(*prompts) != 1 || !strings.Contains((*prompts)[0], "Generate 3 multiple choice questions") {
		t.Errorf("unexpected prompt %v", *prompts)
	}
}

func TestGenerateQuestionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
	}{
		{"not json", "Sure! Here are your questions.", http.StatusOK},
		{"empty array", "[]", http.StatusOK},
		{"bad correct option", `[{"text":"q","options":{"A":"x","B":"y"},"correctOption":"D"}]`, http.StatusOK},
		{"unknown option label", `[{"text":"q","options":{"A":"x","E":"y"},"correctOption":"A"}]`, http.StatusOK},
		{"server error", "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newFakeLLM(t, tt.content, tt.status)
			_, err := c.GenerateQuestions(t.Context(), "Mathematics", "Arithmetic", 3)
			var ge *GenerationError
			if !errors.As(err, &ge) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if ge.Op != "generate questions" {
				t.Errorf("unexpected op %q", ge.Op)
			}
		})
	}
}

func TestAdvice(t *testing.T) {
	c, prompts := newFakeLLM(t, "Great work in Mathematics. English needs more reading. Practice daily! Keep going.", http.StatusOK)
	rows := []report.Row{
		{SubjectName: "Mathematics", Score: 8, TotalQuestions: 10},
		{SubjectName: "English", Score: 3, TotalQuestions: 10},
	}
	got, err := c.Advice(t.Context(), "Ada Obi", rows)
	if err != nil {
		t.Fatalf("Advice: %v", err)
	}
	want := "Great work in Mathematics. English needs more reading. Practice daily!"
	if got != want {
		t.Errorf("Advice = %q, want %q", got, want)
	}
	if !strings.Contains((*prompts)[0], "[Mathematics: 8/10, English: 3/10]") {
		t.Errorf("prompt should list the results, got %q", (*prompts)[0])
	}

	if _, err := c.Advice(t.Context(), "Ada Obi", nil); err == nil {
		t.Error("expected error without results")
	}
}

func TestPing(t *testing.T) {
	c, _ := newFakeLLM(t, "", http.StatusOK)
	if err := c.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"  [1]  ", "[1]"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"fewer than n", "One. Two.", 3, "One. Two."},
		{"exactly n", "One. Two! Three?", 3, "One. Two! Three?"},
		{"more than n", "One. Two. Three. Four.", 3, "One. Two. Three."},
		{"decimal not a boundary", "You scored 5.5 overall. Good. Fine. Extra.", 3, "You scored 5.5 overall. Good. Fine."},
		{"no punctuation", "Keep it up", 3, "Keep it up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstSentences(tt.in, tt.n); got != tt.want {
				t.Errorf("FirstSentences = %q, want %q", got, tt.want)
			}
		})
	}
}
