package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if conn.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if conn.Type != "" && conn.Type != "awx" && conn.Type != "aap" {
		writeError(w, http.StatusBadRequest, "type must be awx or aap")
		return
	}
	conn.ApplyDefaults()
	s.Connections.Create(&conn)
	writeJSON(w, http.StatusCreated, conn.Redacted())
}

func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.Connections.List()
	out := make([]models.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing := s.Connections.Get(id)
	if existing == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	conn.ID = id
	// a masked or empty password keeps the stored one
	if conn.Password == "" || conn.Password == existing.MaskedPassword() {
		conn.Password = existing.Password
	}
	conn.ApplyDefaults()
	if !s.Connections.Update(&conn) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn.Redacted())
}

func (s *Server) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Connections.Delete(id) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection pings the controller and checks the credentials, recording
// both outcomes on the stored connection.
func (s *Server) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	p := platform.NewPlatform(conn, s.Log)

	pingStatus, pingErr := "ok", ""
	authStatus, authErr := "unknown", ""
	if err := p.Ping(); err != nil {
		pingStatus, pingErr = "error", err.Error()
	} else if err := p.CheckAuth(); err != nil {
		authStatus, authErr = "error", err.Error()
	} else {
		authStatus = "ok"
	}
	s.Connections.SetHealth(id, pingStatus, pingErr, authStatus, authErr)

	resp := map[string]interface{}{"ok": pingStatus == "ok" && authStatus == "ok"}
	if pingErr != "" {
		resp["error"] = pingErr
	} else if authErr != "" {
		resp["error"] = authErr
	}
	writeJSON(w, http.StatusOK, resp)
}
