package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/confhub/internal/metrics"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// actorHeader names the caller recorded as created_by/updated_by.
const actorHeader = "X-Confhub-Actor"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests other than health, metrics and
// public reads must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /v1/namespaces", s.handleCreateNamespace)
	mux.HandleFunc("GET /v1/namespaces", s.handleListNamespaces)
	mux.HandleFunc("GET /v1/namespaces/{ns}", s.handleGetNamespace)
	mux.HandleFunc("PATCH /v1/namespaces/{ns}", s.handleUpdateNamespace)
	mux.HandleFunc("DELETE /v1/namespaces/{ns}", s.handleDeleteNamespace)
	mux.HandleFunc("GET /v1/namespaces/{ns}/meta", s.handleListMeta)

	mux.HandleFunc("POST /v1/namespaces/{ns}/configs", s.handleCreateConfig)
	mux.HandleFunc("GET /v1/namespaces/{ns}/configs", s.handleListConfigs)
	mux.HandleFunc("GET /v1/namespaces/{ns}/configs/{key}", s.handleGetConfig)
	mux.HandleFunc("PATCH /v1/namespaces/{ns}/configs/{key}", s.handleUpdateConfig)
	mux.HandleFunc("DELETE /v1/namespaces/{ns}/configs/{key}", s.handleDeleteConfig)
	mux.HandleFunc("GET /v1/namespaces/{ns}/configs/{key}/meta", s.handleGetMeta)
	mux.HandleFunc("GET /v1/namespaces/{ns}/configs/{key}/history", s.handleGetHistory)
	mux.HandleFunc("POST /v1/namespaces/{ns}/configs/{key}/rollback", s.handleRollback)
	mux.HandleFunc("POST /v1/namespaces/{ns}/batch/get", s.handleBatchGet)
	mux.HandleFunc("POST /v1/namespaces/{ns}/batch/upsert", s.handleBatchUpsert)

	mux.HandleFunc("GET /v1/public/{ns}/{key}", s.handlePublicConfig)

	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("POST /v1/events/subscriptions/{conn}", s.handleSubscription)

	return MetricsMiddleware(AuthMiddleware(authToken, mux))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of a failed request.
type errorBody struct {
	Error      string                  `json:"error"`
	Code       string                  `json:"code,omitempty"`
	Fields     []model.FieldError      `json:"fields,omitempty"`
	Violations []model.SchemaViolation `json:"violations,omitempty"`
}

// writeServiceError maps a service error to a status code and writes it.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Errors
	}
	var sve *model.SchemaValidationError
	if errors.As(err, &sve) {
		body.Violations = sve.Violations
	}
	body.Code = codeFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		body.Error = "internal error"
		if body.Code == codeDecryptionFailed {
			body.Error = "stored value could not be decrypted"
		}
	}
	writeJSON(w, status, body)
}

// Error codes that tell a misconfigured server apart from corrupted data.
const (
	codeEncryptionUnavailable = "encryption_unavailable"
	codeDecryptionFailed      = "decryption_failed"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, model.ErrEncryptionUnavailable):
		return codeEncryptionUnavailable
	case errors.Is(err, model.ErrDecryptionFailed):
		return codeDecryptionFailed
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrHasActiveItems), errors.Is(err, model.ErrNamespaceDisabled):
		return http.StatusConflict
	case errors.Is(err, model.ErrSchemaValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrSchemaInvalid),
		errors.Is(err, model.ErrTooManyKeys):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEncryptionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes the JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func actor(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (*bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}
