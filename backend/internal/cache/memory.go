package cache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

type MemoryOptions struct {
	// Capacity bounds the number of entries; 0 means unbounded. When full the
	// oldest inserted entry is evicted (insertion order, not LRU).
	Capacity int
	Now      func() time.Time
}

// MemoryStore is the in-process Store used when cache.driver=memory and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion
	capacity int
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opt MemoryOptions) *MemoryStore {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	capacity := opt.Capacity
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryStore{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      now,
	}
}

// lookup returns a live entry, dropping it first if it has expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) *Entry {
	el, ok := m.entries[key]
	if !ok {
		return nil
	}
	e := el.Value.(*Entry)
	if e.expired(m.now()) {
		m.removeElement(el)
		return nil
	}
	return e
}

func (m *MemoryStore) removeElement(el *list.Element) {
	e := el.Value.(*Entry)
	delete(m.entries, e.Key)
	m.order.Remove(el)
}

// insert replaces any existing entry, which moves the key to the back of the insertion order.
func (m *MemoryStore) insert(key string, value []byte, ttl time.Duration) {
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
	if m.capacity > 0 {
		for m.order.Len() >= m.capacity {
			m.removeElement(m.order.Front())
		}
	}
	if ttl < 0 {
		ttl = 0
	}
	e := &Entry{Key: key, Value: append([]byte(nil), value...), CreatedAt: m.now(), TTL: ttl}
	m.entries[key] = m.order.PushBack(e)
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.Value...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(key, value, ttl)
	return nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.entries[k]; ok {
			m.removeElement(el)
		}
	}
	return nil
}

func (m *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key) != nil, nil
}

// DelPattern uses path.Match globbing, which matches Redis globs for the
// key shapes used here ('*' does not cross '/').
func (m *MemoryStore) DelPattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("cache: bad pattern %q: %w", pattern, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if ok, _ := path.Match(pattern, e.Key); ok {
			m.removeElement(el)
			n++
		}
		el = next
	}
	return n, nil
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if e := m.lookup(key); e != nil {
		v, err := strconv.ParseInt(string(e.Value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache: value at %q is not an integer", key)
		}
		cur = v
	}
	cur += amount
	m.insert(key, []byte(strconv.FormatInt(cur, 10)), ttl)
	return cur, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryStore) Close() error { return nil }
