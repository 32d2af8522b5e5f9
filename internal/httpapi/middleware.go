// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/memberd/memberd/internal/logging"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument assigns a ULID request ID, opens a trace span, logs the request,
// and counts it. The request ID is echoed in the X-Request-ID header.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := ulid.Make().String()
		ctx := logging.WithRequestID(r.Context(), requestID)

		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rr := r.WithContext(ctx)
		next.ServeHTTP(rec, rr)

		route := rr.Pattern
		if route == "" {
			route = "unmatched"
		}

		s.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.
				WithLabelValues(route, strconv.Itoa(rec.status)).
				Inc()
		}
	})
}
