package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memorySubscriber struct {
	channels map[string]bool
	out      chan Message
}

// MemoryStore is an in-process Store used by tests and local development.
// Expiry is evaluated lazily on read against the store's clock.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	sets  map[string]map[string]bool
	subs  map[*memorySubscriber]bool
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a MemoryStore whose TTL checks use the
// given clock, letting tests simulate elapsed time.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		sets:  make(map[string]map[string]bool),
		subs:  make(map[*memorySubscriber]bool),
		now:   now,
	}
}

func (s *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && s.now().After(item.expiresAt)
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(item) {
		delete(s.items, key)
		return nil, ErrNotFound
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

func (s *MemoryStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.items, key)
	if s.expired(item) {
		return nil, ErrNotFound
	}

	return item.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	item := memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *MemoryStore) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sets[key] == nil {
		s.sets[key] = make(map[string]bool)
	}
	s.sets[key][member] = true
	return nil
}

func (s *MemoryStore) SetRemove(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.sets[key]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (s *MemoryStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, item := range s.items {
		if s.expired(item) {
			delete(s.items, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subs {
		if !sub.channels[channel] {
			continue
		}
		// Fire-and-forget: a slow subscriber drops the message
		select {
		case sub.out <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	sub := &memorySubscriber{
		channels: make(map[string]bool, len(channels)),
		out:      make(chan Message, 64),
	}
	for _, channel := range channels {
		sub.channels[channel] = true
	}

	s.mu.Lock()
	s.subs[sub] = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(sub.out)
	}()

	return sub.out, nil
}
