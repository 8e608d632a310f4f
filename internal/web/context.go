package web

import (
	"net/http"

	"github.com/JonMunkholm/tabclean/internal/core"
)

// clientContext stores the client IP and User-Agent in the request context
// so cleaning runs can be attributed in the run history.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithClient(r.Context(), r.RemoteAddr, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
