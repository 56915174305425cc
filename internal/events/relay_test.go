package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_NATSIntoHub(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	hub := NewHub()
	s := hub.Connect("billing")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(sub, hub, nil).Run(ctx) }()

	// The relay subscribes asynchronously; publish until the hub sees one.
	deadline := time.After(2 * time.Second)
	var got *Delivery
	for got == nil {
		require.NoError(t, pub.conn.Publish("confhub.ns.billing.changed", []byte("not json")))
		require.NoError(t, pub.Publish(ctx, Topic("billing"), testEvent("billing", "tax.rate", 4)))
		require.NoError(t, pub.Flush(time.Second))
		select {
		case got = <-s.Events():
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("relay never delivered an event")
		}
	}
	assert.Equal(t, "tax.rate", got.Event.Key)
	assert.Equal(t, 4, got.Event.Version)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}

func TestRelay_IgnoresEventsWithoutNamespace(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewRelay(sub, hub, nil).Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, pub.conn.Publish("confhub.ns.x.changed", []byte(`{"key":"k"}`)))
	require.NoError(t, pub.Flush(time.Second))
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, hub.EventsSince(0, []string{""}))
}
