package gateway

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// indexFile returns the frontend entry point, or "" when there is none.
func (s *Server) indexFile() string {
	if s.cfg.PublicDir == "" {
		return ""
	}
	p := filepath.Join(s.cfg.PublicDir, "index.html")
	if info, err := os.Stat(p); err != nil || info.IsDir() {
		return ""
	}
	return p
}

// publicFile resolves a request path inside the public dir.
func (s *Server) publicFile(urlPath string) (string, bool) {
	if s.cfg.PublicDir == "" {
		return "", false
	}
	p := filepath.Join(s.cfg.PublicDir, filepath.FromSlash(path.Clean("/"+urlPath)))
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if index := s.indexFile(); index != "" {
		http.ServeFile(w, r, index)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Parley chat API",
		"status":    "running",
		"timestamp": now(),
		"note":      "Add an index.html to the public directory to serve a frontend",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Seconds(),
		"timestamp": now(),
	})
}

// handleNotFound serves public files, then falls back to the frontend for
// page routes and to JSON errors for the API.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if strings.HasPrefix(p, "/api/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": errAPINotFound, "path": p})
		return
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if file, ok := s.publicFile(p); ok {
			http.ServeFile(w, r, file)
			return
		}
		if s.indexFile() != "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": errNotFound, "path": p})
}
