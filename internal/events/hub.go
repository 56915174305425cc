package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/alfredjeanlab/confhub/internal/model"
)

const (
	// ringBufferSize is the number of recent events kept for Last-Event-ID
	// replay.
	ringBufferSize = 1000

	// subscriptionBuffer is the per-connection delivery queue depth.
	subscriptionBuffer = 64
)

// Delivery is one change event as handed to a streaming connection.
type Delivery struct {
	ID    uint64 // monotonically increasing sequence number
	Topic string
	Event ChangeEvent
	Data  []byte // JSON-encoded event
}

// Subscription is a single streaming connection registered with a Hub.
type Subscription struct {
	ID string

	ch         chan *Delivery
	namespaces mapset.Set[string]
}

// Events delivers change events for the namespaces the subscription has
// joined. The channel is closed on Disconnect.
func (s *Subscription) Events() <-chan *Delivery {
	return s.ch
}

// Namespaces returns the joined namespaces, sorted.
func (s *Subscription) Namespaces() []string {
	out := s.namespaces.ToSlice()
	slices.Sort(out)
	return out
}

// Joined reports whether the subscription receives events for ns.
func (s *Subscription) Joined(ns string) bool {
	return s.namespaces.Contains(ns)
}

// Hub fans change events out to streaming connections, keyed by namespace.
// Membership is indexed both ways so a disconnect touches only the
// namespaces the connection joined.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]*Subscription
	byNamespace map[string]mapset.Set[string]
	nextID      atomic.Uint64

	ringMu  sync.RWMutex
	ring    [ringBufferSize]Delivery
	ringPos int // next write position (wraps around)
	ringLen int // number of valid entries
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:        make(map[string]*Subscription),
		byNamespace: make(map[string]mapset.Set[string]),
	}
}

// Connect registers a new subscription joined to the given namespaces.
func (h *Hub) Connect(namespaces ...string) *Subscription {
	s := &Subscription{
		ID:         uuid.NewString(),
		ch:         make(chan *Delivery, subscriptionBuffer),
		namespaces: mapset.NewSet[string](),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s.ID] = s
	for _, ns := range namespaces {
		h.joinLocked(s, ns)
	}
	return s
}

// Get returns the live subscription with the given id.
func (h *Hub) Get(id string) (*Subscription, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.subs[id]
	return s, ok
}

// Join adds ns to the subscription's namespaces.
func (h *Hub) Join(id, ns string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return model.NotFoundf("subscription %q", id)
	}
	h.joinLocked(s, ns)
	return nil
}

func (h *Hub) joinLocked(s *Subscription, ns string) {
	members, ok := h.byNamespace[ns]
	if !ok {
		members = mapset.NewThreadUnsafeSet[string]()
		h.byNamespace[ns] = members
	}
	members.Add(s.ID)
	s.namespaces.Add(ns)
}

// Leave removes ns from the subscription's namespaces.
func (h *Hub) Leave(id, ns string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return model.NotFoundf("subscription %q", id)
	}
	h.leaveLocked(s, ns)
	return nil
}

func (h *Hub) leaveLocked(s *Subscription, ns string) {
	s.namespaces.Remove(ns)
	if members, ok := h.byNamespace[ns]; ok {
		members.Remove(s.ID)
		if members.Cardinality() == 0 {
			delete(h.byNamespace, ns)
		}
	}
}

// Disconnect drops every membership of the subscription and closes its
// channel. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return
	}
	for _, ns := range s.namespaces.ToSlice() {
		h.leaveLocked(s, ns)
	}
	delete(h.subs, id)
	close(s.ch)
}

// Subscribers returns how many connections have joined ns.
func (h *Hub) Subscribers(ns string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if members, ok := h.byNamespace[ns]; ok {
		return members.Cardinality()
	}
	return 0
}

// Broadcast records evt in the replay buffer and hands it to every
// subscription joined to its namespace. Slow subscribers miss events rather
// than block the caller.
func (h *Hub) Broadcast(evt ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	d := &Delivery{
		ID:    h.nextID.Add(1),
		Topic: Topic(evt.Namespace),
		Event: evt,
		Data:  data,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *d
	h.ringPos = (h.ringPos + 1) % ringBufferSize
	if h.ringLen < ringBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.byNamespace[evt.Namespace]
	if !ok {
		return nil
	}
	members.Each(func(id string) bool {
		select {
		case h.subs[id].ch <- d:
		default:
		}
		return false
	})
	return nil
}

// EventsSince returns buffered events with ID > lastID for the given
// namespaces, oldest first.
func (h *Hub) EventsSince(lastID uint64, namespaces []string) []*Delivery {
	want := mapset.NewThreadUnsafeSet(namespaces...)

	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var result []*Delivery
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += ringBufferSize
	}
	for i := range h.ringLen {
		d := h.ring[(start+i)%ringBufferSize]
		if d.ID > lastID && want.Contains(d.Event.Namespace) {
			result = append(result, &d)
		}
	}
	return result
}

// HubPublisher is a Publisher that broadcasts straight into a local Hub.
// It serves single-process deployments without NATS.
type HubPublisher struct {
	Hub *Hub
}

func (p *HubPublisher) Publish(ctx context.Context, topic string, event any) error {
	switch evt := event.(type) {
	case ChangeEvent:
		return p.Hub.Broadcast(evt)
	case *ChangeEvent:
		return p.Hub.Broadcast(*evt)
	default:
		return fmt.Errorf("hub publisher: unsupported event %T on %s", event, topic)
	}
}

func (p *HubPublisher) Close() error {
	return nil
}
