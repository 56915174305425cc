package server

import (
	"net/http"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// handleCreateConfig handles POST /v1/namespaces/{ns}/configs.
func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configsvc.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Actor = actor(r)
	item, err := s.configs.Create(r.Context(), r.PathValue("ns"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleListConfigs handles GET /v1/namespaces/{ns}/configs?prefix=&enabled=&public=&limit=&offset=.
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	filter := model.ItemFilter{KeyPrefix: r.URL.Query().Get("prefix")}
	var ok bool
	if filter.Enabled, ok = queryBool(r, "enabled"); !ok {
		writeError(w, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	if filter.Public, ok = queryBool(r, "public"); !ok {
		writeError(w, http.StatusBadRequest, "public must be a boolean")
		return
	}
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	res, err := s.configs.List(r.Context(), r.PathValue("ns"), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetConfig handles GET /v1/namespaces/{ns}/configs/{key}.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	item, err := s.configs.FindOne(r.Context(), r.PathValue("ns"), r.PathValue("key"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleUpdateConfig handles PATCH /v1/namespaces/{ns}/configs/{key}.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configsvc.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	req.Actor = actor(r)
	item, err := s.configs.Update(r.Context(), r.PathValue("ns"), r.PathValue("key"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleDeleteConfig handles DELETE /v1/namespaces/{ns}/configs/{key}.
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.Remove(r.Context(), r.PathValue("ns"), r.PathValue("key"), actor(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMeta handles GET /v1/namespaces/{ns}/configs/{key}/meta.
func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.configs.GetMeta(r.Context(), r.PathValue("ns"), r.PathValue("key"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleGetHistory handles GET /v1/namespaces/{ns}/configs/{key}/history?limit=&offset=.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	var page model.Page
	var ok bool
	if page.Limit, ok = queryInt(r, "limit"); !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if page.Offset, ok = queryInt(r, "offset"); !ok {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	entries, total, err := s.configs.History(r.Context(), r.PathValue("ns"), r.PathValue("key"), page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "total": total})
}

// rollbackRequest is the JSON body for POST .../rollback.
type rollbackRequest struct {
	Version int    `json:"version"`
	Note    string `json:"note,omitempty"`
}

// handleRollback handles POST /v1/namespaces/{ns}/configs/{key}/rollback.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := s.configs.Rollback(r.Context(), r.PathValue("ns"), r.PathValue("key"), req.Version, req.Note, actor(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// batchGetRequest is the JSON body for POST .../batch/get.
type batchGetRequest struct {
	Keys []string `json:"keys"`
}

// handleBatchGet handles POST /v1/namespaces/{ns}/batch/get.
func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	var req batchGetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	items, err := s.configs.BatchGet(r.Context(), r.PathValue("ns"), req.Keys)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	found := make(map[string]bool, len(items))
	for _, it := range items {
		found[it.Key] = true
	}
	missing := []string{}
	for _, k := range req.Keys {
		if !found[k] {
			missing = append(missing, k)
			found[k] = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "missing": missing})
}

// batchUpsertRequest is the JSON body for POST .../batch/upsert.
type batchUpsertRequest struct {
	Items []configsvc.UpsertItem `json:"items"`
}

// handleBatchUpsert handles POST /v1/namespaces/{ns}/batch/upsert.
func (s *Server) handleBatchUpsert(w http.ResponseWriter, r *http.Request) {
	var req batchUpsertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.configs.BatchUpsert(r.Context(), r.PathValue("ns"), req.Items, actor(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// publicConfig is the anonymous view of a public item.
type publicConfig struct {
	Key         string      `json:"key"`
	Value       model.Value `json:"value"`
	Version     int         `json:"version"`
	ContentHash string      `json:"content_hash"`
}

// handlePublicConfig handles GET /v1/public/{ns}/{key}.
func (s *Server) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	item, err := s.configs.FindPublic(r.Context(), r.PathValue("ns"), r.PathValue("key"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicConfig{
		Key:         item.Key,
		Value:       item.Value,
		Version:     item.Version,
		ContentHash: item.ContentHash,
	})
}
