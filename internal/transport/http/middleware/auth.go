package httpmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cwrk-planet/muc-session/pkg/httputil"
)

// BearerAuth требует Authorization: Bearer <token>. Пустой token отключает проверку.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			got := strings.TrimSpace(auth[7:])
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
