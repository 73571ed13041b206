package util

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// WithCORS allows the storefront origins to call the API with credentials.
// An empty origin list allows any origin without credentials.
func WithCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Guest-Cart", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Guest-Cart"},
		MaxAge:         300,
	}
	if len(allowed) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = allowed
		opts.AllowCredentials = true
	}
	return cors.Handler(opts)
}
