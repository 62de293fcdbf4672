package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/towerxfer/internal/models"
	"github.com/rflorenc/towerxfer/internal/platform"
)

func (s *Server) ListResourceTypes(w http.ResponseWriter, r *http.Request) {
	conn := s.Connections.Get(chi.URLParam(r, "id"))
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, platform.ResourceTypesFor(conn.Type, conn.Version))
}

func (s *Server) ListResourcesOfType(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resourceType := chi.URLParam(r, "type")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	p := platform.NewPlatform(conn, s.Log)
	if !servesResourceType(p, resourceType) {
		writeError(w, http.StatusNotFound, "unknown resource type")
		return
	}
	resources, err := p.ListResources(resourceType)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// Ensure we return [] not null for empty results
	if resources == nil {
		resources = []models.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

func servesResourceType(p platform.Platform, name string) bool {
	for _, rt := range p.GetResourceTypes() {
		if rt.Name == name {
			return true
		}
	}
	return false
}
