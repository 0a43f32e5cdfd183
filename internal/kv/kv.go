// Package kv provides small named-value stores: persistent ones for
// preferences and dismissal markers, and a volatile one readable by the
// local control API.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xelth-com/fieldsync/internal/config"
	"gorm.io/gorm"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("kv: key not found")

// KeyValueStore is the named-value capability
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in lexical order
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is a non-persistent KeyValueStore
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matching(m.values, prefix), nil
}

func matching(values map[string]string, prefix string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Open returns the persistent store selected by cfg
func Open(cfg config.KVConfig, db *gorm.DB) (KeyValueStore, error) {
	switch cfg.Backend {
	case "", "db":
		return NewDBStore(db), nil
	case "file":
		fs, err := OpenFileStore(cfg.File)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}
