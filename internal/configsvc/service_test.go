package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/confhub/internal/cache"
	"github.com/alfredjeanlab/confhub/internal/encryption"
	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/model"
	"github.com/alfredjeanlab/confhub/internal/namespace"
	"github.com/alfredjeanlab/confhub/internal/schema"
	"github.com/alfredjeanlab/confhub/internal/store"
	"github.com/alfredjeanlab/confhub/internal/store/memory"
	"github.com/alfredjeanlab/confhub/internal/versions"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// countingStore counts direct item reads.
type countingStore struct {
	store.Store
	getItem  atomic.Int64
	getItems atomic.Int64
}

func (c *countingStore) GetItem(ctx context.Context, namespaceID, key string) (*model.ConfigItem, error) {
	c.getItem.Add(1)
	return c.Store.GetItem(ctx, namespaceID, key)
}

func (c *countingStore) GetItems(ctx context.Context, namespaceID string, keys []string) ([]*model.ConfigItem, error) {
	c.getItems.Add(1)
	return c.Store.GetItems(ctx, namespaceID, keys)
}

type fixture struct {
	ctx      context.Context
	svc      *Service
	st       *countingStore
	backend  *cache.MemoryBackend
	hub      *events.Hub
	notifier *events.Notifier
	reg      *namespace.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	enc, err := encryption.New(testKey)
	require.NoError(t, err)

	st := &countingStore{Store: memory.New()}
	backend := cache.NewMemoryBackend(0)
	t.Cleanup(func() { _ = backend.Close() })
	layer := cache.New(backend, cache.DefaultOptions(), nil)

	hub := events.NewHub()
	notifier := events.NewNotifier(nil)
	notifier.Attach(&events.HubPublisher{Hub: hub})

	reg := namespace.NewRegistry(st, layer, nil)
	_, err = reg.Create(ctx, model.NamespaceInput{Name: "billing"})
	require.NoError(t, err)

	svc := New(st, reg, versions.New(st, schema.New(), enc), layer, notifier, nil)
	return &fixture{ctx: ctx, svc: svc, st: st, backend: backend, hub: hub, notifier: notifier, reg: reg}
}

func val(t *testing.T, raw string) model.Value {
	t.Helper()
	v, err := model.ParseValue([]byte(raw))
	require.NoError(t, err)
	return v
}

func ptr[T any](v T) *T { return &v }

func nextEvent(t *testing.T, s *events.Subscription) events.ChangeEvent {
	t.Helper()
	select {
	case d := <-s.Events():
		return d.Event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return events.ChangeEvent{}
	}
}

func TestCreateUpdateRollback_Scenario(t *testing.T) {
	f := newFixture(t)
	sub := f.hub.Connect("billing")

	item, err := f.svc.Create(f.ctx, "billing", CreateRequest{
		Key:    "max_retries",
		Value:  val(t, "3"),
		Schema: json.RawMessage(`{"type":"number","minimum":0}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Version)
	evt := nextEvent(t, sub)
	assert.Equal(t, model.ChangeCreate, evt.ChangeType)
	assert.Equal(t, 1, evt.Version)
	assert.Equal(t, item.ContentHash, evt.ContentHash)

	item, err = f.svc.Update(f.ctx, "billing", "max_retries", UpdateRequest{Value: ptr(val(t, "5"))})
	require.NoError(t, err)
	assert.Equal(t, 2, item.Version)
	assert.Equal(t, model.ChangeUpdate, nextEvent(t, sub).ChangeType)

	item, err = f.svc.Rollback(f.ctx, "billing", "max_retries", 1, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, item.Version)
	assert.Equal(t, "3", item.Value.String())
	evt = nextEvent(t, sub)
	assert.Equal(t, model.ChangeRollback, evt.ChangeType)
	assert.Equal(t, 3, evt.Version)

	got, err := f.svc.FindOne(f.ctx, "billing", "max_retries")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, "3", got.Value.String())

	history, total, err := f.svc.History(f.ctx, "billing", "max_retries", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	var types []model.ChangeType
	for _, h := range history {
		types = append(types, h.ChangeType)
	}
	assert.Equal(t, []model.ChangeType{model.ChangeRollback, model.ChangeUpdate, model.ChangeCreate}, types)
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "bad key!", Value: val(t, "1")})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.Create(f.ctx, "missing", CreateRequest{Key: "k", Value: val(t, "1")})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "1"), Schema: json.RawMessage(`{"type":"nope"}`)})
	assert.ErrorIs(t, err, model.ErrSchemaInvalid)

	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "-1"), Schema: json.RawMessage(`{"type":"number","minimum":0}`)})
	assert.ErrorIs(t, err, model.ErrSchemaValidationFailed)

	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "1")})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "2")})
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	_, err = f.reg.Update(f.ctx, "billing", model.NamespacePatch{Enabled: ptr(false)})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "other", Value: val(t, "1")})
	assert.ErrorIs(t, err, model.ErrNamespaceDisabled)
}

func TestEncryptedValues_NeverCachedInPlaintext(t *testing.T) {
	f := newFixture(t)

	item, err := f.svc.Create(f.ctx, "billing", CreateRequest{
		Key:         "db.password",
		Value:       model.StringValue("secret-value"),
		IsEncrypted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "secret-value", mustStr(t, item.Value))

	got, err := f.svc.FindOne(f.ctx, "billing", "db.password")
	require.NoError(t, err)
	assert.True(t, got.IsEncrypted)
	assert.Equal(t, "secret-value", mustStr(t, got.Value))
	assert.Equal(t, model.ContentHash(model.StringValue("secret-value")), got.ContentHash)

	raw, ok, err := f.backend.Get(f.ctx, cache.ItemKey("billing", "db.password"))
	require.NoError(t, err)
	require.True(t, ok, "item should be cached after a read")
	assert.NotContains(t, string(raw), "secret-value")

	// A second read is served from the cache and still decrypts.
	got, err = f.svc.FindOne(f.ctx, "billing", "db.password")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", mustStr(t, got.Value))
}

func TestEncryption_UnavailableFailsWrite(t *testing.T) {
	f := newFixture(t)
	f.svc.versions = versions.New(f.st, schema.New(), mustEnc(t, ""))

	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, `"v"`), IsEncrypted: true})
	assert.ErrorIs(t, err, model.ErrEncryptionFailed)
	assert.ErrorIs(t, err, model.ErrEncryptionUnavailable)
}

func TestUpdate_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "timeout", Value: val(t, "30")})
	require.NoError(t, err)

	got, err := f.svc.FindOne(f.ctx, "billing", "timeout")
	require.NoError(t, err)
	require.Equal(t, 1, got.Version)

	_, err = f.svc.Update(f.ctx, "billing", "timeout", UpdateRequest{Value: ptr(val(t, "60"))})
	require.NoError(t, err)

	got, err = f.svc.FindOne(f.ctx, "billing", "timeout")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "60", got.Value.String())
}

func TestUpdate_MetadataOnlyKeepsVersion(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "timeout", Value: val(t, "30")})
	require.NoError(t, err)

	item, err := f.svc.Update(f.ctx, "billing", "timeout", UpdateRequest{Description: ptr("request timeout"), IsPublic: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Version)
	assert.Equal(t, "request timeout", item.Description)

	_, err = f.svc.Update(f.ctx, "billing", "missing", UpdateRequest{Description: ptr("x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	sub := f.hub.Connect("billing")
	item, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "flag", Value: val(t, "true")})
	require.NoError(t, err)
	nextEvent(t, sub)
	_, err = f.svc.FindOne(f.ctx, "billing", "flag")
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(f.ctx, "billing", "flag", "alice"))
	evt := nextEvent(t, sub)
	assert.Equal(t, model.ChangeDelete, evt.ChangeType)
	assert.Equal(t, item.Version, evt.Version)
	assert.Equal(t, item.ContentHash, evt.ContentHash)

	_, err = f.svc.FindOne(f.ctx, "billing", "flag")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, f.svc.Remove(f.ctx, "billing", "flag", "alice"), model.ErrNotFound)

	// The key is free again.
	recreated, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "flag", Value: val(t, "false")})
	require.NoError(t, err)
	assert.Equal(t, 1, recreated.Version)
}

func TestRollback_VersionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "1")})
	require.NoError(t, err)

	_, err = f.svc.Rollback(f.ctx, "billing", "k", 7, "", "")
	assert.ErrorIs(t, err, model.ErrVersionNotFound)
	_, err = f.svc.Rollback(f.ctx, "billing", "k", 0, "", "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestFindPublic(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "public.on", Value: val(t, "1"), IsPublic: true})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "public.off", Value: val(t, "1"), IsPublic: true, Enabled: ptr(false)})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "private", Value: val(t, "1")})
	require.NoError(t, err)

	item, err := f.svc.FindPublic(f.ctx, "billing", "public.on")
	require.NoError(t, err)
	assert.Equal(t, "1", item.Value.String())

	for _, key := range []string{"public.off", "private", "absent"} {
		_, err := f.svc.FindPublic(f.ctx, "billing", key)
		assert.ErrorIs(t, err, model.ErrNotFound, key)
	}

	_, err = f.reg.Update(f.ctx, "billing", model.NamespacePatch{Enabled: ptr(false)})
	require.NoError(t, err)
	_, err = f.svc.FindPublic(f.ctx, "billing", "public.on")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NotErrorIs(t, err, model.ErrNamespaceDisabled)
}

func TestMeta(t *testing.T) {
	f := newFixture(t)
	item, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "a", Value: val(t, `{"x":1}`)})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "b", Value: val(t, `"s"`), IsEncrypted: true})
	require.NoError(t, err)

	meta, err := f.svc.GetMeta(f.ctx, "billing", "a")
	require.NoError(t, err)
	assert.Equal(t, item.Meta(), meta)

	metas, err := f.svc.ListMeta(f.ctx, "billing")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "b", metas[1].Key)
	assert.True(t, metas[1].IsEncrypted)

	// The namespace listing is invalidated by writes.
	_, err = f.svc.Create(f.ctx, "billing", CreateRequest{Key: "c", Value: val(t, "1")})
	require.NoError(t, err)
	metas, err = f.svc.ListMeta(f.ctx, "billing")
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	for i, key := range []string{"db.host", "db.port", "feature.x"} {
		_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: key, Value: val(t, fmt.Sprint(i)), IsPublic: i == 2})
		require.NoError(t, err)
	}

	all, err := f.svc.List(f.ctx, "billing", model.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	_, ok, err := f.backend.Get(f.ctx, cache.AllKey("billing"))
	require.NoError(t, err)
	assert.True(t, ok, "unfiltered listing should be cached")

	db, err := f.svc.List(f.ctx, "billing", model.ItemFilter{KeyPrefix: "db."})
	require.NoError(t, err)
	assert.Equal(t, 2, db.Total)
	assert.Equal(t, "1", db.Items[1].Value.String())

	public, err := f.svc.List(f.ctx, "billing", model.ItemFilter{Public: ptr(true)})
	require.NoError(t, err)
	require.Len(t, public.Items, 1)
	assert.Equal(t, "feature.x", public.Items[0].Key)

	_, err = f.svc.List(f.ctx, "billing", model.ItemFilter{Offset: -1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestBatchGet(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{"a", "b", "c"} {
		_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: key, Value: val(t, `"`+key+`"`)})
		require.NoError(t, err)
	}

	items, err := f.svc.BatchGet(f.ctx, "billing", nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, f.st.getItems.Load(), "empty batch must not touch the store")

	keys := make([]string, MaxBatchKeys+1)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}
	_, err = f.svc.BatchGet(f.ctx, "billing", keys)
	assert.ErrorIs(t, err, model.ErrTooManyKeys)
	assert.Zero(t, f.st.getItems.Load())

	items, err = f.svc.BatchGet(f.ctx, "billing", []string{"c", "a", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, `"a"`, items[0].Value.String())
	assert.Equal(t, int64(1), f.st.getItems.Load())
}

func TestBatchUpsert_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{
		Key:    "limit",
		Value:  val(t, "10"),
		Schema: json.RawMessage(`{"type":"number","maximum":100}`),
	})
	require.NoError(t, err)

	res, err := f.svc.BatchUpsert(f.ctx, "billing", []UpsertItem{
		{Key: "one", Value: val(t, "1")},
		{Key: "limit", Value: val(t, "1000")},
		{Key: "two", Value: val(t, `"two"`), IsEncrypted: ptr(true)},
		{Key: "three", Value: val(t, "true")},
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 4)
	assert.False(t, res.Results[1].Success)
	assert.ErrorIs(t, res.Results[1].Err, model.ErrSchemaValidationFailed)
	assert.NotEmpty(t, res.Results[1].Error)
	assert.True(t, res.Results[0].Created)

	for _, key := range []string{"one", "two", "three"} {
		item, err := f.svc.FindOne(f.ctx, "billing", key)
		require.NoError(t, err, key)
		assert.Equal(t, "bob", item.CreatedBy)
	}
	limit, err := f.svc.FindOne(f.ctx, "billing", "limit")
	require.NoError(t, err)
	assert.Equal(t, "10", limit.Value.String())

	res, err = f.svc.BatchUpsert(f.ctx, "billing", []UpsertItem{{Key: "one", Value: val(t, "2")}}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.False(t, res.Results[0].Created)
	assert.Equal(t, 2, res.Results[0].Version)
}

func TestFindOne_StampedeLoadsOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "hot", Value: val(t, "1")})
	require.NoError(t, err)
	before := f.st.getItem.Load()

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.FindOne(f.ctx, "billing", "hot"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	assert.LessOrEqual(t, f.st.getItem.Load()-before, int64(3))
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, topic string, event any) error {
	return errors.New("bus down")
}

func (failingPublisher) Close() error { return nil }

func TestMutations_SurviveNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.Attach(failingPublisher{})

	item, err := f.svc.Create(f.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "1")})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Version)

	detached := newFixture(t)
	detached.svc.notifier = events.NewNotifier(nil)
	_, err = detached.svc.Create(detached.ctx, "billing", CreateRequest{Key: "k", Value: val(t, "1")})
	require.NoError(t, err)
}

func mustStr(t *testing.T, v model.Value) string {
	t.Helper()
	s, ok := v.Str()
	require.True(t, ok, "value is %s, not a string", v.Kind())
	return s
}

func mustEnc(t *testing.T, key string) *encryption.Service {
	t.Helper()
	enc, err := encryption.New(key)
	require.NoError(t, err)
	return enc
}
