package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBackend is a Backend on a NATS JetStream key-value bucket, shared by
// every process connected to the same cluster. Per-entry expiry is carried in
// an envelope because bucket TTLs are bucket-wide.
type NATSBackend struct {
	conn *nats.Conn
	kv   nats.KeyValue
	now  func() time.Time
}

var _ Backend = (*NATSBackend)(nil)

type envelope struct {
	ExpiresAt int64  `json:"exp"` // unix nanos
	Data      []byte `json:"data"`
}

// NewNATSBackend connects to url and opens (or creates) bucket. maxAge bounds
// how long any entry may live in the bucket regardless of its own TTL.
func NewNATSBackend(url, bucket string, maxAge time.Duration, opts ...nats.Option) (*NATSBackend, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "confhub read-through cache and fill locks",
			History:     1,
			TTL:         maxAge,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return &NATSBackend{conn: nc, kv: kv, now: time.Now}, nil
}

// kvKey maps an arbitrary cache key onto the KV key alphabet.
func kvKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (n *NATSBackend) wrap(value []byte, ttl time.Duration) ([]byte, error) {
	return json.Marshal(envelope{ExpiresAt: n.now().Add(ttl).UnixNano(), Data: value})
}

// entry returns the live envelope under key, or nil when absent or expired.
func (n *NATSBackend) entry(key string) (nats.KeyValueEntry, *envelope, error) {
	e, err := n.kv.Get(kvKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("kv get: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(e.Value(), &env); err != nil {
		return e, nil, nil
	}
	if n.now().UnixNano() >= env.ExpiresAt {
		return e, nil, nil
	}
	return e, &env, nil
}

func (n *NATSBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, env, err := n.entry(key)
	if err != nil || env == nil {
		return nil, false, err
	}
	return env.Data, true, nil
}

func (n *NATSBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := n.wrap(value, ttl)
	if err != nil {
		return err
	}
	if _, err := n.kv.Put(kvKey(key), data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

func (n *NATSBackend) Delete(ctx context.Context, keys ...string) error {
	var firstErr error
	for _, k := range keys {
		if err := n.kv.Delete(kvKey(k)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) && firstErr == nil {
			firstErr = fmt.Errorf("kv delete: %w", err)
		}
	}
	return firstErr
}

func (n *NATSBackend) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	data, err := n.wrap([]byte(token), ttl)
	if err != nil {
		return false, err
	}
	_, err = n.kv.Create(kvKey(key), data)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, nats.ErrKeyExists) {
		return false, fmt.Errorf("kv create: %w", err)
	}

	// The key exists; take it over only if the holder's lease has lapsed.
	e, env, err := n.entry(key)
	if err != nil || e == nil || env != nil {
		return false, err
	}
	if _, err := n.kv.Update(kvKey(key), data, e.Revision()); err != nil {
		return false, nil
	}
	return true, nil
}

func (n *NATSBackend) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	e, env, err := n.entry(key)
	if err != nil || env == nil || string(env.Data) != token {
		return false, err
	}
	if err := n.kv.Delete(kvKey(key), nats.LastRevision(e.Revision())); err != nil {
		// Someone else wrote the key after we read it.
		return false, nil
	}
	return true, nil
}

// Close closes the NATS connection.
func (n *NATSBackend) Close() error {
	n.conn.Close()
	return nil
}
