package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
)

// AdminUsername is the user name administrators authenticate with.
const AdminUsername = "admin"

// requireAdmin checks HTTP basic credentials against the administrator hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !h.checkAdmin(user, pass) {
			if ok {
				slog.Warn("admin authentication failed", "remote", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="cbtportal admin", charset="UTF-8"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Error: appI18n.T(r.Context(), "ErrUnauthorized"),
				Code:  "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkAdmin(user, pass string) bool {
	if len(h.adminHash) == 0 {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(AdminUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword(h.adminHash, []byte(pass)) == nil
	return userOK && passOK
}
