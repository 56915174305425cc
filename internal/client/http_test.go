package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string // URL-encoded path (for testing PathEscape)
	query       string
	body        string
	contentType string
	actor       string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.actor = r.Header.Get(ActorHeader)
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, "tok", "alice")
	return c, srv
}

const itemJSON = `{
	"id": "ci-abc",
	"namespace_id": "ns-1",
	"namespace": "billing",
	"key": "db.url",
	"value": "postgres://db",
	"value_type": "string",
	"is_encrypted": false,
	"is_public": true,
	"version": 3,
	"content_hash": "abc123",
	"enabled": true,
	"created_at": "2026-01-15T10:00:00Z",
	"updated_at": "2026-01-15T11:00:00Z"
}`

// --- Namespaces ---

func TestHTTPClient_CreateNamespace(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"id":"ns-1","name":"billing","display_name":"Billing","enabled":true}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	ns, err := c.CreateNamespace(context.Background(), model.NamespaceInput{Name: "billing", DisplayName: "Billing"})
	if err != nil {
		t.Fatalf("CreateNamespace() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/namespaces" {
		t.Errorf("request = %s %s, want POST /v1/namespaces", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("content-type = %q", h.contentType)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("authorization = %q, want 'Bearer tok'", h.auth)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if sent["name"] != "billing" || sent["display_name"] != "Billing" {
		t.Errorf("body = %v", sent)
	}
	if ns.ID != "ns-1" || !ns.Enabled {
		t.Errorf("namespace = %+v", ns)
	}
}

func TestHTTPClient_ListNamespaces(t *testing.T) {
	h := &testHandler{responseBody: `{"namespaces":[{"name":"a"},{"name":"b"}]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	enabled := true
	list, err := c.ListNamespaces(context.Background(), model.NamespaceFilter{Enabled: &enabled, Search: "bil"})
	if err != nil {
		t.Fatalf("ListNamespaces() error = %v", err)
	}
	if h.query != "enabled=true&search=bil" {
		t.Errorf("query = %q", h.query)
	}
	if len(list) != 2 || list[1].Name != "b" {
		t.Errorf("list = %+v", list)
	}
}

func TestHTTPClient_UpdateNamespace(t *testing.T) {
	h := &testHandler{responseBody: `{"name":"billing","enabled":false}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	disabled := false
	ns, err := c.UpdateNamespace(context.Background(), "billing", model.NamespacePatch{Enabled: &disabled})
	if err != nil {
		t.Fatalf("UpdateNamespace() error = %v", err)
	}
	if h.method != http.MethodPatch || h.path != "/v1/namespaces/billing" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.body != `{"enabled":false}` {
		t.Errorf("body = %s", h.body)
	}
	if ns.Enabled {
		t.Error("expected disabled namespace")
	}
}

func TestHTTPClient_ListMeta(t *testing.T) {
	h := &testHandler{responseBody: `{"items":[{"key":"a","version":2,"content_hash":"h"}]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	metas, err := c.ListMeta(context.Background(), "billing")
	if err != nil {
		t.Fatalf("ListMeta() error = %v", err)
	}
	if h.path != "/v1/namespaces/billing/meta" {
		t.Errorf("path = %q", h.path)
	}
	if len(metas) != 1 || metas[0].Version != 2 {
		t.Errorf("metas = %+v", metas)
	}
}

// --- Config items ---

func TestHTTPClient_CreateConfig(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: itemJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	item, err := c.CreateConfig(context.Background(), "billing", configsvc.CreateRequest{
		Key:      "db.url",
		Value:    model.StringValue("postgres://db"),
		IsPublic: true,
		Actor:    "ignored",
	})
	if err != nil {
		t.Fatalf("CreateConfig() error = %v", err)
	}
	if h.path != "/v1/namespaces/billing/configs" {
		t.Errorf("path = %q", h.path)
	}
	if h.actor != "alice" {
		t.Errorf("actor header = %q, want alice", h.actor)
	}
	if strings.Contains(h.body, "ignored") {
		t.Errorf("actor leaked into body: %s", h.body)
	}
	if item.Version != 3 || item.Namespace != "billing" {
		t.Errorf("item = %+v", item)
	}
	if s, ok := item.Value.Str(); !ok || s != "postgres://db" {
		t.Errorf("value = %v", item.Value)
	}
}

func TestHTTPClient_GetConfig_URLEscaping(t *testing.T) {
	h := &testHandler{responseBody: itemJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.GetConfig(context.Background(), "billing", "feature flags/x"); err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if h.rawPath != "/v1/namespaces/billing/configs/feature%20flags%2Fx" {
		t.Errorf("raw path = %q", h.rawPath)
	}
}

func TestHTTPClient_ListConfigs(t *testing.T) {
	h := &testHandler{responseBody: `{"items":[` + itemJSON + `],"total":41}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	public := true
	res, err := c.ListConfigs(context.Background(), "billing", model.ItemFilter{
		KeyPrefix: "db.",
		Public:    &public,
		Limit:     10,
		Offset:    20,
	})
	if err != nil {
		t.Fatalf("ListConfigs() error = %v", err)
	}
	if h.query != "limit=10&offset=20&prefix=db.&public=true" {
		t.Errorf("query = %q", h.query)
	}
	if res.Total != 41 || len(res.Items) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPClient_ListConfigs_NoFilters(t *testing.T) {
	h := &testHandler{responseBody: `{"items":[],"total":0}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.ListConfigs(context.Background(), "billing", model.ItemFilter{}); err != nil {
		t.Fatalf("ListConfigs() error = %v", err)
	}
	if h.query != "" {
		t.Errorf("query = %q, want empty", h.query)
	}
}

func TestHTTPClient_UpdateConfig(t *testing.T) {
	h := &testHandler{responseBody: itemJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	v := model.NumberValue(42)
	if _, err := c.UpdateConfig(context.Background(), "billing", "db.url", configsvc.UpdateRequest{Value: &v, ChangeNote: "bump"}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if h.method != http.MethodPatch {
		t.Errorf("method = %q", h.method)
	}
	if h.body != `{"value":42,"change_note":"bump"}` {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_History(t *testing.T) {
	h := &testHandler{responseBody: `{"history":[{"version":2,"change_type":"UPDATE","value":"b"},{"version":1,"change_type":"CREATE","value":"a"}],"total":2}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.History(context.Background(), "billing", "k", model.Page{Limit: 5})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if h.path != "/v1/namespaces/billing/configs/k/history" || h.query != "limit=5" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
	if resp.Total != 2 || resp.History[0].ChangeType != model.ChangeUpdate {
		t.Errorf("history = %+v", resp)
	}
	if s, _ := resp.History[1].Value.Str(); s != "a" {
		t.Errorf("oldest value = %q", s)
	}
}

func TestHTTPClient_Rollback(t *testing.T) {
	h := &testHandler{responseBody: itemJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.Rollback(context.Background(), "billing", "k", 1, "oops"); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if h.path != "/v1/namespaces/billing/configs/k/rollback" {
		t.Errorf("path = %q", h.path)
	}
	if h.body != `{"note":"oops","version":1}` {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_BatchGet(t *testing.T) {
	h := &testHandler{responseBody: `{"items":[` + itemJSON + `],"missing":["gone"]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.BatchGet(context.Background(), "billing", []string{"db.url", "gone"})
	if err != nil {
		t.Fatalf("BatchGet() error = %v", err)
	}
	if h.body != `{"keys":["db.url","gone"]}` {
		t.Errorf("body = %s", h.body)
	}
	if len(resp.Items) != 1 || len(resp.Missing) != 1 || resp.Missing[0] != "gone" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPClient_BatchUpsert(t *testing.T) {
	h := &testHandler{responseBody: `{"results":[{"key":"a","success":true,"created":true,"version":1},{"key":"b","success":false,"error":"bad"}],"successful":1,"failed":1}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	res, err := c.BatchUpsert(context.Background(), "billing", []configsvc.UpsertItem{
		{Key: "a", Value: model.StringValue("x")},
		{Key: "b", Value: model.BoolValue(true)},
	})
	if err != nil {
		t.Fatalf("BatchUpsert() error = %v", err)
	}
	if h.path != "/v1/namespaces/billing/batch/upsert" {
		t.Errorf("path = %q", h.path)
	}
	if res.Successful != 1 || res.Failed != 1 || res.Results[1].Error != "bad" {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPClient_GetPublic(t *testing.T) {
	h := &testHandler{responseBody: `{"key":"theme","value":{"dark":true},"version":1,"content_hash":"h"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	pub, err := c.GetPublic(context.Background(), "web", "theme")
	if err != nil {
		t.Fatalf("GetPublic() error = %v", err)
	}
	if h.path != "/v1/public/web/theme" {
		t.Errorf("path = %q", h.path)
	}
	if pub.Value.Kind() != model.KindJSON {
		t.Errorf("value kind = %v", pub.Value.Kind())
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{
		responseBody: `{"status": "ok"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.method != http.MethodGet {
		t.Errorf("method = %q, want GET", h.method)
	}
	if h.path != "/v1/health" {
		t.Errorf("path = %q, want /v1/health", h.path)
	}
	if status != "ok" {
		t.Errorf("status = %q, want 'ok'", status)
	}
}

// --- Events ---

func TestHTTPClient_Watch(t *testing.T) {
	var lastID, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastID = r.Header.Get("Last-Event-ID")
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:subscribed\ndata:{\"connection\":\"c-1\"}\n\n")
		_, _ = io.WriteString(w, ":keepalive\n\n")
		_, _ = io.WriteString(w, "id:7\nevent:confhub.ns.billing.changed\ndata:{\"namespace\":\"billing\",\"key\":\"k\"}\n\n")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	var got []StreamEvent
	err := c.Watch(context.Background(), []string{"billing", "web"}, "5", func(ev StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if lastID != "5" {
		t.Errorf("Last-Event-ID = %q", lastID)
	}
	if query != "namespaces=billing%2Cweb" {
		t.Errorf("query = %q", query)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if !got[0].IsSubscribed() || got[0].Connection != "c-1" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].ID != "7" || got[1].Type != "confhub.ns.billing.changed" {
		t.Errorf("second event = %+v", got[1])
	}
	if string(got[1].Data) != `{"namespace":"billing","key":"k"}` {
		t.Errorf("data = %s", got[1].Data)
	}
}

func TestHTTPClient_Watch_CallbackErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "event:a\ndata:1\n\nevent:b\ndata:2\n\n")
	}))
	defer srv.Close()

	stop := errors.New("stop")
	calls := 0
	err := NewHTTPClient(srv.URL, "", "").Watch(context.Background(), nil, "", func(StreamEvent) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Watch() error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHTTPClient_Watch_ErrorStatus(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNotFound, responseBody: `{"error":"namespace not found"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	err := c.Watch(context.Background(), []string{"nope"}, "", func(StreamEvent) error { return nil })
	if !IsNotFound(err) {
		t.Fatalf("Watch() error = %v, want 404", err)
	}
}

func TestHTTPClient_Subscribe(t *testing.T) {
	h := &testHandler{responseBody: `{"connection":"c-1","namespaces":["billing","web"]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	got, err := c.Subscribe(context.Background(), "c-1", []string{"web"}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if h.path != "/v1/events/subscriptions/c-1" {
		t.Errorf("path = %q", h.path)
	}
	if len(got) != 2 {
		t.Errorf("namespaces = %v", got)
	}
}

// --- Error handling ---

func TestHTTPClient_Error_JSONBody(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusUnprocessableEntity,
		responseBody: `{"error": "value does not match schema", "violations": [{"path":"(root).port","message":"must be >= 1","rule":"minimum"}]}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.CreateConfig(context.Background(), "billing", configsvc.CreateRequest{Key: "k"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "value does not match schema" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if len(apiErr.Violations) != 1 || apiErr.Violations[0].Rule != "minimum" {
		t.Errorf("violations = %+v", apiErr.Violations)
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	_, err := c.GetConfig(context.Background(), "billing", "k")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Message != "internal server error" {
		t.Errorf("message = %q, want 'internal server error'", apiErr.Message)
	}
}

func TestHTTPClient_Error_404(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusNotFound,
		responseBody: `{"error": "config billing/k: not found"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetConfig(context.Background(), "billing", "k")
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("plain error reported as not found")
	}
}

func TestHTTPClient_Error_FormatString(t *testing.T) {
	apiErr := &APIError{StatusCode: 403, Message: "forbidden"}
	want := "HTTP 403: forbidden"
	if apiErr.Error() != want {
		t.Errorf("Error() = %q, want %q", apiErr.Error(), want)
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{
		responseBody: `{"status": "ok"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error = %q, want to contain 'context canceled'", err.Error())
	}
}

// --- 204 No Content handling ---

func TestHTTPClient_204NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	if err := c.DeleteConfig(context.Background(), "billing", "k"); err != nil {
		t.Fatalf("DeleteConfig() with 204 error = %v", err)
	}
	if err := c.DeleteNamespace(context.Background(), "billing"); err != nil {
		t.Fatalf("DeleteNamespace() with 204 error = %v", err)
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/", "", "")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want 'http://localhost:8080'", c.baseURL)
	}
}

func TestHTTPClient_NoAuthHeadersWhenUnset(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL, "", "").Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.auth != "" || h.actor != "" {
		t.Errorf("auth = %q actor = %q, want both empty", h.auth, h.actor)
	}
}
