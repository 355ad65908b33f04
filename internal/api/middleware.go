package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"minibus/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		path := routeLabel(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())

		entry := s.Log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": dur.Milliseconds(),
			"remote":      r.RemoteAddr,
		})
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			entry.Debug("request")
			return
		}
		entry.Info("request")
	})
}

// routeLabel collapses ids out of the path so metric cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/solutions/"):
		if strings.HasSuffix(path, "/reservations") {
			return "/v1/solutions/{id}/reservations"
		}
		return "/v1/solutions/{id}"
	case strings.HasPrefix(path, "/v1/runs/"):
		return "/v1/runs/{id}/ws"
	}
	switch path {
	case "/v1/stations", "/v1/vehicles", "/v1/reservations", "/v1/optimize", "/v1/optimizer/config",
		"/v1/admin/run-metrics", "/healthz", "/readyz", "/metrics", "/debug/info":
		return path
	}
	return "other"
}
