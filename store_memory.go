package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errStoreClosed = errors.New("store is closed")

type InMemoryItemStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewInMemoryItemStore() *InMemoryItemStore {
	return &InMemoryItemStore{
		items: make(map[string][]byte),
	}
}

// items are held encoded so callers mutating their map afterwards do not change the stored record
func (m *InMemoryItemStore) PutItem(ctx context.Context, item Item) error {
	id := item.ID()
	if id == "" {
		return errors.New("item has no id")
	}

	data, err := marshalJSON(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items == nil {
		return errStoreClosed
	}
	m.items[id] = data
	return nil
}

func (m *InMemoryItemStore) GetItem(ctx context.Context, id string) (Item, error) {
	m.mu.RLock()
	closed := m.items == nil
	data, exists := m.items[id]
	m.mu.RUnlock()

	if closed {
		return nil, errStoreClosed
	}
	if !exists {
		return nil, ErrItemNotFound
	}
	return parseItem(data)
}

func (m *InMemoryItemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

func (m *InMemoryItemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
	return nil
}
