package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "CBT Portal" {
		t.Errorf("T(AppTitle) = %q, want 'CBT Portal'", got)
	}

	got = T(ctx, "ErrPinLocked")
	if got != "PIN is locked to another student" {
		t.Errorf("T(ErrPinLocked) = %q", got)
	}
}

func TestTranslateFrench(t *testing.T) {
	ctx := initLang(t, "fr")

	got := T(ctx, "AppTitle")
	if got != "Portail CBT" {
		t.Errorf("T(AppTitle) = %q, want 'Portail CBT'", got)
	}

	got = T(ctx, "VerdictPASSED")
	if got != "ADMIS" {
		t.Errorf("T(VerdictPASSED) = %q, want 'ADMIS'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "UsesRemaining", 1)
	if got1 != "1 use remaining on this PIN." {
		t.Errorf("Tp(UsesRemaining, 1) = %q", got1)
	}

	got2 := Tp(ctx, "UsesRemaining", 2)
	if got2 != "2 uses remaining on this PIN." {
		t.Errorf("Tp(UsesRemaining, 2) = %q", got2)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ExamSubmitted", map[string]any{"Score": 4, "Total": 5})
	if got != "Exam submitted! Your score: 4/5" {
		t.Errorf("Td(ExamSubmitted) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestFallbackWithoutLocalizer(t *testing.T) {
	initLang(t, "en")
	if got := T(context.Background(), "AppTitle"); got != "CBT Portal" {
		t.Errorf("T without localizer = %q, want default language", got)
	}
}

func TestMatch(t *testing.T) {
	initLang(t, "en")
	tests := []struct {
		name  string
		prefs []string
		want  string
	}{
		{"exact", []string{"fr"}, "fr"},
		{"regional", []string{"fr-CA"}, "fr"},
		{"accept header", []string{"fr-FR,fr;q=0.9,en;q=0.8"}, "fr"},
		{"unsupported falls back", []string{"de", "en"}, "en"},
		{"nothing", nil, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.prefs...); got != tt.want {
				t.Errorf("Match(%v) = %q, want %q", tt.prefs, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(T(r.Context(), "AppTitle")))
	}))

	tests := []struct {
		name   string
		url    string
		accept string
		want   string
	}{
		{"default", "/", "", "CBT Portal"},
		{"query", "/?lang=fr", "", "Portail CBT"},
		{"header", "/", "fr-FR,fr;q=0.9", "Portail CBT"},
		{"query wins", "/?lang=en", "fr", "CBT Portal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Body.String() != tt.want {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestLangFromContext(t *testing.T) {
	initLang(t, "en")
	if got := LangFromContext(t.Context()); got != "en" {
		t.Errorf("default lang = %q, want en", got)
	}

	var seen string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = LangFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/?lang=fr", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "fr" {
		t.Errorf("lang = %q, want fr", seen)
	}
}
