package sync

import (
	"context"
	"errors"
	"strings"

	"github.com/alfredjeanlab/confhub/internal/model"
)

// mockSource is a minimal in-memory Source for sync tests.
type mockSource struct {
	namespaces []*model.Namespace
	items      map[string][]*model.ConfigItem // by namespace id
	listCalls  int
	failItems  bool
}

func newMockSource() *mockSource {
	return &mockSource{items: make(map[string][]*model.ConfigItem)}
}

func (m *mockSource) addNamespace(id, name string) *model.Namespace {
	ns := &model.Namespace{ID: id, Name: name, DisplayName: strings.ToUpper(name), Enabled: true}
	m.namespaces = append(m.namespaces, ns)
	return ns
}

func (m *mockSource) addItem(nsID, key string, stored string, encrypted bool) {
	m.items[nsID] = append(m.items[nsID], &model.ConfigItem{
		ID:          "ci-" + key,
		NamespaceID: nsID,
		Key:         key,
		StoredValue: []byte(stored),
		ValueType:   model.ValueTypeString,
		IsEncrypted: encrypted,
		Version:     1,
		ContentHash: "h-" + key,
		Enabled:     true,
	})
}

func (m *mockSource) ListNamespaces(_ context.Context, _ model.NamespaceFilter) ([]*model.Namespace, error) {
	return append([]*model.Namespace(nil), m.namespaces...), nil
}

func (m *mockSource) ListItems(_ context.Context, namespaceID string, filter model.ItemFilter) ([]*model.ConfigItem, int, error) {
	m.listCalls++
	if m.failItems {
		return nil, 0, errors.New("boom")
	}
	all := m.items[namespaceID]
	start := min(filter.Offset, len(all))
	end := len(all)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return all[start:end], len(all), nil
}
