// Package server exposes the config center over HTTP (JSON API, server-sent
// events, Prometheus metrics) and gRPC (health and reflection).
package server

import (
	"log/slog"

	"google.golang.org/grpc/health"

	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/namespace"
)

// Server holds the services every transport dispatches to.
type Server struct {
	namespaces *namespace.Registry
	configs    *configsvc.Service
	hub        *events.Hub
	health     *health.Server
	logger     *slog.Logger
}

// New returns a Server. hub receives the change events streamed to SSE
// clients.
func New(reg *namespace.Registry, svc *configsvc.Service, hub *events.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		namespaces: reg,
		configs:    svc,
		hub:        hub,
		health:     health.NewServer(),
		logger:     logger,
	}
}

// Health returns the gRPC health service, so callers can flip serving status
// during startup and shutdown.
func (s *Server) Health() *health.Server {
	return s.health
}
