// Package events carries config change notifications between processes and
// out to streaming clients.
package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/confhub/internal/model"
)

const (
	topicPrefix = "confhub.ns."
	topicSuffix = ".changed"

	// TopicAll matches the change topic of every namespace.
	TopicAll = topicPrefix + ">"
)

// Topic returns the subject change events for namespace ns are published on.
func Topic(ns string) string {
	return topicPrefix + ns + topicSuffix
}

// ChangeEvent announces a committed mutation of one config item.
type ChangeEvent struct {
	Namespace   string           `json:"namespace"`
	Key         string           `json:"key"`
	Version     int              `json:"version"`
	ContentHash string           `json:"content_hash"`
	ChangeType  model.ChangeType `json:"change_type"`
	ChangedAt   time.Time        `json:"changed_at"`
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
