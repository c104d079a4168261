package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/auth"
)

// Authenticate resolves the bearer token on every request and stores the
// caller in the request context. Requests without a token continue as
// anonymous; an invalid token is rejected.
func Authenticate(issuer *auth.Issuer, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := issuer.FromAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug("rejected bearer token", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, logger, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
		})
	}
}
