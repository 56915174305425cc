package server

import (
	"net/http"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// handleCreateNamespace handles POST /v1/namespaces.
func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var in model.NamespaceInput
	if !decodeBody(w, r, &in) {
		return
	}
	ns, err := s.namespaces.Create(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ns)
}

// handleListNamespaces handles GET /v1/namespaces?enabled=&search=.
func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	enabled, ok := queryBool(r, "enabled")
	if !ok {
		writeError(w, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	list, err := s.namespaces.List(r.Context(), model.NamespaceFilter{
		Enabled: enabled,
		Search:  r.URL.Query().Get("search"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Namespace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": list})
}

// handleGetNamespace handles GET /v1/namespaces/{ns}.
func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.namespaces.GetOrThrow(r.Context(), r.PathValue("ns"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// handleUpdateNamespace handles PATCH /v1/namespaces/{ns}.
func (s *Server) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	var patch model.NamespacePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	ns, err := s.namespaces.Update(r.Context(), r.PathValue("ns"), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// handleDeleteNamespace handles DELETE /v1/namespaces/{ns}.
func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.namespaces.Remove(r.Context(), r.PathValue("ns")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMeta handles GET /v1/namespaces/{ns}/meta.
func (s *Server) handleListMeta(w http.ResponseWriter, r *http.Request) {
	metas, err := s.configs.ListMeta(r.Context(), r.PathValue("ns"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": metas})
}
