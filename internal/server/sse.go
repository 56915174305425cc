package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/confhub/internal/events"
)

// sseKeepaliveInterval is how often keepalive comments are sent to prevent
// connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

// handleEventStream handles GET /v1/events/stream?namespaces=a,b (SSE).
// The first event, "subscribed", carries the connection id used to join and
// leave namespaces while the stream is open.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	namespaces, err := s.resolveNamespaces(r, splitList(r.URL.Query().Get("namespaces")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	sub := s.hub.Connect(namespaces...)
	defer s.hub.Disconnect(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event:subscribed\ndata:{\"connection\":%q}\n\n", sub.ID)
	flusher.Flush()

	// If the client sent Last-Event-ID, replay buffered events.
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, d := range s.hub.EventsSince(lastID, namespaces) {
				writeSSEEvent(w, d)
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(w, d)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// subscriptionRequest is the JSON body for POST /v1/events/subscriptions/{conn}.
type subscriptionRequest struct {
	Join  []string `json:"join,omitempty"`
	Leave []string `json:"leave,omitempty"`
}

// handleSubscription handles POST /v1/events/subscriptions/{conn}, changing
// the namespaces a live stream receives.
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("conn")
	sub, ok := s.hub.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}
	var req subscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	join, err := s.resolveNamespaces(r, req.Join)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	for _, ns := range join {
		if err := s.hub.Join(id, ns); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	for _, ns := range req.Leave {
		if err := s.hub.Leave(id, ns); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": id, "namespaces": sub.Namespaces()})
}

// resolveNamespaces checks that every named namespace exists.
func (s *Server) resolveNamespaces(r *http.Request, names []string) ([]string, error) {
	for _, name := range names {
		if _, err := s.namespaces.GetOrThrow(r.Context(), name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, d *events.Delivery) {
	fmt.Fprintf(w, "id:%d\n", d.ID)
	fmt.Fprintf(w, "event:%s\n", d.Topic)
	fmt.Fprintf(w, "data:%s\n\n", d.Data)
}
