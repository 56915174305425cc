package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/confhub/internal/model"
)

func testEvent(ns, key string, version int) ChangeEvent {
	return ChangeEvent{
		Namespace:   ns,
		Key:         key,
		Version:     version,
		ContentHash: "abc123",
		ChangeType:  model.ChangeUpdate,
		ChangedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("billing"); got != "confhub.ns.billing.changed" {
		t.Errorf("Topic = %q", got)
	}
	if TopicAll != "confhub.ns.>" {
		t.Errorf("TopicAll = %q", TopicAll)
	}
}

func TestPublishers_ImplementPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
	var _ Publisher = (*HubPublisher)(nil)
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(Topic("billing"), ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	if err := pub.Publish(context.Background(), Topic("billing"), testEvent("billing", "tax.rate", 2)); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := pub.Flush(time.Second); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	select {
	case msg := <-ch:
		var got ChangeEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Key != "tax.rate" || got.Version != 2 || got.ChangeType != model.ChangeUpdate {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_PublishMultipleNamespaces(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(TopicAll, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	for _, ns := range []string{"billing", "search", "auth", "billing"} {
		if err := pub.Publish(context.Background(), Topic(ns), testEvent(ns, "k", 1)); err != nil {
			t.Fatalf("Publish(%s): %v", ns, err)
		}
	}
	pub.conn.Flush()

	for i := 0; i < 4; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, Topic("billing"), testEvent("billing", "k", 1)); err == nil {
		t.Error("expected error publishing with cancelled context")
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Publishing after close should fail.
	err = pub.Publish(context.Background(), Topic("billing"), testEvent("billing", "k", 1))
	if err == nil {
		t.Error("expected error publishing after close")
	}
}
