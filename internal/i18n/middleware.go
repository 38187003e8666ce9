package i18n

import "net/http"

// Middleware injects a localizer into every request context. The language is
// taken from the "lang" query parameter, then the Accept-Language header, and
// falls back to lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chosen := lang
			if q := r.URL.Query().Get("lang"); q != "" {
				chosen = Match(q, lang)
			} else if accept := r.Header.Get("Accept-Language"); accept != "" {
				chosen = Match(accept, lang)
			}
			w.Header().Set("Content-Language", chosen)
			ctx := WithLocalizer(WithLang(r.Context(), chosen), NewLocalizer(chosen))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
