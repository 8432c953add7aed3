// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/cortexlabs/cortexd/internal/logger"
)

// skipTrafficLog names endpoints hit by pollers, logged only when they are
// slow or fail. Adapted from the teacher's TrafficLogger
// (internal/server/middleware/logger.go), whose own skip list covered its
// /api/v1/stats, /health, and /keys polling endpoints.
var skipTrafficLog = []string{"/ping"}

// responseWriter wraps http.ResponseWriter to capture the status code the
// handler actually wrote, same idiom as the teacher's TrafficLogger.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// trafficLogger logs request entry/exit through the shared logger,
// replacing the teacher's stdlib log.Printf calls.
func trafficLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		quiet := false
		for _, path := range skipTrafficLog {
			if strings.HasPrefix(r.URL.Path, path) {
				quiet = true
				break
			}
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		if !quiet || rw.statusCode >= 400 || duration > time.Second {
			logger.Printf("[HTTP] %s %s -> %d (%s)", r.Method, r.URL.Path, rw.statusCode, duration)
		}
	})
}
