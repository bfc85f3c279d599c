// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package objstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Client used by tests and single-node setups
// without an object store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// failPuts makes the next put attempts fail with a transient error.
	// Tests use it to exercise the retry-on-next-tick policy.
	failPuts int
}

var _ Client = (*Memory)(nil)

// NewMemory returns an empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// PutObject stores body under key.
func (m *Memory) PutObject(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPuts > 0 {
		m.failPuts--
		return Categorize(Transient, errors.New("injected put failure"))
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

// GetObject returns the object stored under key.
func (m *Memory) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.objects[key]
	if !ok {
		return nil, Categorize(NotFound, errors.New("no such key: "+key))
	}
	return append([]byte(nil), body...), nil
}

// DeleteObject removes key.
func (m *Memory) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

// ListPrefix returns the keys under prefix in lexicographic order.
func (m *Memory) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(context.Context) error {
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// FailNextPuts injects n transient put failures.
func (m *Memory) FailNextPuts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts = n
}
