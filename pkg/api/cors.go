// Package api mounts the deployment control plane's HTTP surface (spec
// §6) using go-chi/chi and go-chi/cors.
package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

// CORSOptions configures the cross-origin policy, built either from
// explicit values or environment variables.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORSFromEnvironment builds CORSOptions from CORS_* environment
// variables, falling back to a closed-by-default policy.
func CORSFromEnvironment() CORSOptions {
	opts := CORSOptions{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         5 * time.Minute,
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		opts.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_ALLOWED_METHODS"); v != "" {
		opts.AllowedMethods = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_ALLOWED_HEADERS"); v != "" {
		opts.AllowedHeaders = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_EXPOSED_HEADERS"); v != "" {
		opts.ExposedHeaders = splitAndTrim(v)
	}
	if v := os.Getenv("CORS_ALLOW_CREDENTIALS"); v != "" {
		opts.AllowCredentials, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("CORS_MAX_AGE"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			opts.MaxAge = time.Duration(seconds) * time.Second
		}
	}
	return opts
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CORSHandler wraps a handler with the given cross-origin policy.
func CORSHandler(opts CORSOptions) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   opts.AllowedMethods,
		AllowedHeaders:   opts.AllowedHeaders,
		ExposedHeaders:   opts.ExposedHeaders,
		AllowCredentials: opts.AllowCredentials,
		MaxAge:           int(opts.MaxAge.Seconds()),
	})
}
