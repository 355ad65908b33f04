package api

import (
	"net/http"
	"time"

	"minibus/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.Config.Summary(),
		"matrix": s.Planner.Matrix.Name(),
	})
}
