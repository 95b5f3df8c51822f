package server

import (
	"crypto/subtle"
	"net/http"
	"time"
)

const (
	tokenCookieName = "tl_token"
	tokenCookieAge  = 24 * time.Hour
)

// authMiddleware gates the review surface. A token arriving as a query
// param is exchanged for a session cookie and stripped from the URL so it
// never lingers in the address bar; after that the cookie alone grants
// access. Approve and reject are state-changing POSTs, so the token
// comparison is constant time.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			if !s.tokenMatches(token) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     tokenCookieName,
				Value:    s.token,
				Path:     "/",
				HttpOnly: true,
				MaxAge:   int(tokenCookieAge / time.Second),
				SameSite: http.SameSiteLaxMode,
			})

			clean := *r.URL
			q := clean.Query()
			q.Del("token")
			clean.RawQuery = q.Encode()
			http.Redirect(w, r, clean.String(), http.StatusFound)
			return
		}

		cookie, err := r.Cookie(tokenCookieName)
		if err != nil || !s.tokenMatches(cookie.Value) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenMatches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.token)) == 1
}
