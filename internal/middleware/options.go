package middleware

import "net/http"

// Options answers any OPTIONS request with an empty 200. CORS preflights are
// handled earlier by the cors middleware; this catches the rest.
func Options(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
