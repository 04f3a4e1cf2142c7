package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// APIKey gates routes behind a static x-api-key header. Real credential
// management lives upstream; this is the deployment-edge stub the ingestion
// and query surfaces sit behind. An empty configured key disables the check.
func APIKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				logger.WarnContext(r.Context(), "rejected request with bad api key",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path,
				)
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
