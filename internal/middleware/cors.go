// Package middleware provides HTTP middleware for the Chipi API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const corsMaxAge = 300

// CORS returns middleware that handles CORS for allowedOrigins. A wildcard
// (or no origins) allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Chipi-Session-ID"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}

	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}

	return cors.Handler(opts)
}
