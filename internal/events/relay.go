package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Relay copies change events from the bus into a local Hub so streaming
// clients on this process see changes committed by any process.
type Relay struct {
	sub    Subscriber
	hub    *Hub
	logger *slog.Logger
}

// NewRelay returns a relay from sub into hub.
func NewRelay(sub Subscriber, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sub: sub, hub: hub, logger: logger}
}

// Run relays events until ctx is cancelled or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(TopicAll)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var evt ChangeEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				r.logger.Warn("relay: discarding malformed change event", "err", err)
				continue
			}
			if evt.Namespace == "" {
				r.logger.Warn("relay: discarding change event without namespace", "key", evt.Key)
				continue
			}
			if err := r.hub.Broadcast(evt); err != nil {
				r.logger.Warn("relay: broadcast failed", "err", err)
			}
		}
	}
}
