package cache

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestJetStream(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newNATSBackend(t *testing.T) *NATSBackend {
	t.Helper()
	b, err := NewNATSBackend(startTestJetStream(t), "confhub_test", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNATSBackend_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	b := newNATSBackend(t)

	require.NoError(t, b.Set(ctx, "cfg:billing:item:db.host", []byte(`"localhost"`), time.Minute))
	got, ok, err := b.Get(ctx, "cfg:billing:item:db.host")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"localhost"`, string(got))

	require.NoError(t, b.Delete(ctx, "cfg:billing:item:db.host", "never-set"))
	_, ok, err = b.Get(ctx, "cfg:billing:item:db.host")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNATSBackend_EnvelopeExpiry(t *testing.T) {
	ctx := context.Background()
	b := newNATSBackend(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Second))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNATSBackend_LockPrimitives(t *testing.T) {
	ctx := context.Background()
	b := newNATSBackend(t)
	now := time.Now()
	b.now = func() time.Time { return now }

	ok, err := b.SetNX(ctx, "lock:k", "t1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.SetNX(ctx, "lock:k", "t2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.CompareAndDelete(ctx, "lock:k", "t2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.CompareAndDelete(ctx, "lock:k", "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Re-acquire after release, then let the lease lapse and take it over.
	ok, err = b.SetNX(ctx, "lock:k", "t3", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	now = now.Add(2 * time.Second)
	ok, err = b.SetNX(ctx, "lock:k", "t4", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CompareAndDelete(ctx, "lock:k", "t3")
	require.NoError(t, err)
	assert.False(t, ok, "a late finisher cannot release a lock it lost")
}

func TestNATSBackend_WithLayer(t *testing.T) {
	ctx := context.Background()
	l := New(newNATSBackend(t), DefaultOptions(), nil)

	calls := 0
	load := func(context.Context) (string, error) { calls++; return "v", nil }
	for range 2 {
		got, err := GetWithLock(ctx, l, ItemKey("ns", "k"), load)
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	}
	assert.Equal(t, 1, calls)
}
