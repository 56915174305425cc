package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/confhub/internal/metrics"
)

// Publish results recorded by the notifier.
const (
	resultPublished = "published"
	resultFailed    = "failed"
	resultDropped   = "dropped"
)

// Notifier publishes change events over whichever transport is attached.
// Events published before a transport is attached are dropped.
type Notifier struct {
	mu     sync.RWMutex
	pub    Publisher
	logger *slog.Logger
}

// NewNotifier returns a notifier with no transport attached.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

// Attach sets the transport used by subsequent Notify calls.
func (n *Notifier) Attach(p Publisher) {
	n.mu.Lock()
	n.pub = p
	n.mu.Unlock()
}

// Attached reports whether a transport is set.
func (n *Notifier) Attached() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pub != nil
}

// Notify publishes evt on its namespace topic. Failures are logged and
// returned; they never undo the committed change.
func (n *Notifier) Notify(ctx context.Context, evt ChangeEvent) error {
	n.mu.RLock()
	pub := n.pub
	n.mu.RUnlock()

	if pub == nil {
		n.logger.Warn("change event dropped: no transport attached",
			"namespace", evt.Namespace, "key", evt.Key, "version", evt.Version)
		metrics.RecordEventPublished(resultDropped)
		return nil
	}

	topic := Topic(evt.Namespace)
	if err := pub.Publish(ctx, topic, evt); err != nil {
		n.logger.Error("publish change event", "topic", topic, "key", evt.Key, "err", err)
		metrics.RecordEventPublished(resultFailed)
		return err
	}
	metrics.RecordEventPublished(resultPublished)
	return nil
}
