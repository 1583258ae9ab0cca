package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const replayedHeader = "Idempotent-Replayed"

// CORS lets the listed browser origins call the API. Preflights are cached
// for five minutes.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
