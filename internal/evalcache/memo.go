package evalcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memo keeps recently used entries in memory in front of a durable Store.
// Since entries never change once committed, a memo hit is always current.
type Memo struct {
	backend Store
	cache   *lru.Cache[string, Entry]
}

func NewMemo(backend Store, size int) (*Memo, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	return &Memo{backend: backend, cache: c}, nil
}

func (m *Memo) Get(ctx context.Context, key string) (Entry, error) {
	if e, ok := m.cache.Get(key); ok {
		return e, nil
	}
	e, err := m.backend.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	m.cache.Add(key, e)
	return e, nil
}

func (m *Memo) PutIfAbsent(ctx context.Context, e Entry) (Entry, error) {
	if got, ok := m.cache.Get(e.Key); ok {
		return got, nil
	}
	got, err := m.backend.PutIfAbsent(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	m.cache.Add(got.Key, got)
	return got, nil
}

// Len is the number of entries held in memory.
func (m *Memo) Len() int {
	return m.cache.Len()
}

func (m *Memo) Close() error {
	m.cache.Purge()
	return m.backend.Close()
}
