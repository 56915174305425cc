package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// ActorHeader names the caller recorded on history rows.
const ActorHeader = "X-Confhub-Actor"

// HTTPClient implements ConfigClient using the confhub HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

var _ ConfigClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request; when actor is non-empty it is sent as the
// acting user for mutations.
func NewHTTPClient(baseURL, token, actor string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		actor:      actor,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Namespaces ---

func (c *HTTPClient) CreateNamespace(ctx context.Context, in model.NamespaceInput) (*model.Namespace, error) {
	var ns model.Namespace
	if err := c.doJSON(ctx, http.MethodPost, "/v1/namespaces", in, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (c *HTTPClient) ListNamespaces(ctx context.Context, filter model.NamespaceFilter) ([]*model.Namespace, error) {
	q := url.Values{}
	if filter.Enabled != nil {
		q.Set("enabled", strconv.FormatBool(*filter.Enabled))
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	var resp struct {
		Namespaces []*model.Namespace `json:"namespaces"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/namespaces", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Namespaces, nil
}

func (c *HTTPClient) GetNamespace(ctx context.Context, name string) (*model.Namespace, error) {
	var ns model.Namespace
	if err := c.doJSON(ctx, http.MethodGet, nsPath(name), nil, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (c *HTTPClient) UpdateNamespace(ctx context.Context, name string, patch model.NamespacePatch) (*model.Namespace, error) {
	var ns model.Namespace
	if err := c.doJSON(ctx, http.MethodPatch, nsPath(name), patch, &ns); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (c *HTTPClient) DeleteNamespace(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, nsPath(name), nil, nil)
}

func (c *HTTPClient) ListMeta(ctx context.Context, ns string) ([]model.ItemMeta, error) {
	var resp struct {
		Items []model.ItemMeta `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, nsPath(ns)+"/meta", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// --- Config items ---

func (c *HTTPClient) CreateConfig(ctx context.Context, ns string, req configsvc.CreateRequest) (*model.ConfigItem, error) {
	var item model.ConfigItem
	if err := c.doJSON(ctx, http.MethodPost, nsPath(ns)+"/configs", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) GetConfig(ctx context.Context, ns, key string) (*model.ConfigItem, error) {
	var item model.ConfigItem
	if err := c.doJSON(ctx, http.MethodGet, configPath(ns, key), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) GetMeta(ctx context.Context, ns, key string) (*model.ItemMeta, error) {
	var meta model.ItemMeta
	if err := c.doJSON(ctx, http.MethodGet, configPath(ns, key)+"/meta", nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *HTTPClient) ListConfigs(ctx context.Context, ns string, filter model.ItemFilter) (*configsvc.ListResult, error) {
	q := url.Values{}
	if filter.KeyPrefix != "" {
		q.Set("prefix", filter.KeyPrefix)
	}
	if filter.Enabled != nil {
		q.Set("enabled", strconv.FormatBool(*filter.Enabled))
	}
	if filter.Public != nil {
		q.Set("public", strconv.FormatBool(*filter.Public))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	var resp configsvc.ListResult
	if err := c.doJSON(ctx, http.MethodGet, withQuery(nsPath(ns)+"/configs", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) UpdateConfig(ctx context.Context, ns, key string, req configsvc.UpdateRequest) (*model.ConfigItem, error) {
	var item model.ConfigItem
	if err := c.doJSON(ctx, http.MethodPatch, configPath(ns, key), req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) DeleteConfig(ctx context.Context, ns, key string) error {
	return c.doJSON(ctx, http.MethodDelete, configPath(ns, key), nil, nil)
}

func (c *HTTPClient) History(ctx context.Context, ns, key string, page model.Page) (*HistoryResponse, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Offset > 0 {
		q.Set("offset", strconv.Itoa(page.Offset))
	}
	var resp HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery(configPath(ns, key)+"/history", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Rollback(ctx context.Context, ns, key string, version int, note string) (*model.ConfigItem, error) {
	body := map[string]any{"version": version}
	if note != "" {
		body["note"] = note
	}
	var item model.ConfigItem
	if err := c.doJSON(ctx, http.MethodPost, configPath(ns, key)+"/rollback", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) BatchGet(ctx context.Context, ns string, keys []string) (*BatchGetResponse, error) {
	var resp BatchGetResponse
	if err := c.doJSON(ctx, http.MethodPost, nsPath(ns)+"/batch/get", map[string]any{"keys": keys}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) BatchUpsert(ctx context.Context, ns string, items []configsvc.UpsertItem) (*configsvc.BatchResult, error) {
	var resp configsvc.BatchResult
	if err := c.doJSON(ctx, http.MethodPost, nsPath(ns)+"/batch/upsert", map[string]any{"items": items}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetPublic(ctx context.Context, ns, key string) (*PublicConfig, error) {
	var resp PublicConfig
	path := "/v1/public/" + url.PathEscape(ns) + "/" + url.PathEscape(key)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Events ---

// StreamEvent is one server-sent event. Subscribed events carry the
// connection id in Connection; change events carry a decoded Change.
type StreamEvent struct {
	ID         string
	Type       string
	Data       []byte
	Connection string
}

// IsSubscribed reports whether e is the stream's opening event.
func (e StreamEvent) IsSubscribed() bool { return e.Type == "subscribed" }

// Subscribe joins and leaves namespaces on a live stream and returns the
// namespaces the stream now receives.
func (c *HTTPClient) Subscribe(ctx context.Context, conn string, join, leave []string) ([]string, error) {
	body := map[string][]string{"join": join, "leave": leave}
	var resp struct {
		Namespaces []string `json:"namespaces"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/subscriptions/"+url.PathEscape(conn), body, &resp); err != nil {
		return nil, err
	}
	return resp.Namespaces, nil
}

// Watch opens the event stream and calls fn for every event until ctx is
// cancelled, the server closes the stream, or fn returns an error.
func (c *HTTPClient) Watch(ctx context.Context, namespaces []string, lastEventID string, fn func(StreamEvent) error) error {
	q := url.Values{}
	if len(namespaces) > 0 {
		q.Set("namespaces", strings.Join(namespaces, ","))
	}
	req, err := c.newRequest(ctx, http.MethodGet, withQuery("/v1/events/stream", q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE parses a text/event-stream body, skipping comment lines.
func readSSE(r io.Reader, fn func(StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var ev StreamEvent
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if ev.Type == "" && data.Len() == 0 {
				continue
			}
			ev.Data = bytes.Clone(data.Bytes())
			if ev.IsSubscribed() {
				var sub struct {
					Connection string `json:"connection"`
				}
				if json.Unmarshal(ev.Data, &sub) == nil {
					ev.Connection = sub.Connection
				}
			}
			if err := fn(ev); err != nil {
				return err
			}
			ev = StreamEvent{}
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "event":
			ev.Type = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Violations []model.SchemaViolation
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func apiError(status int, body []byte) error {
	var errResp struct {
		Error      string                  `json:"error"`
		Code       string                  `json:"code"`
		Violations []model.SchemaViolation `json:"violations"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error, Code: errResp.Code, Violations: errResp.Violations}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

func nsPath(name string) string {
	return "/v1/namespaces/" + url.PathEscape(name)
}

func configPath(ns, key string) string {
	return nsPath(ns) + "/configs/" + url.PathEscape(key)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set(ActorHeader, c.actor)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
