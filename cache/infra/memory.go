package infra

import (
	"context"
	"sync"
	"time"

	"ghibli-gateway/cache/domain"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore é o cache de fallback: mapa local, sem rede, não compartilhado.
//
// O TTL é respeitado de forma preguiçosa no Get; a limpeza periódica só libera
// memória de entradas já expiradas.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	name       string
	defaultTTL time.Duration
	now        func() time.Time
}

var _ domain.Store = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

func WithMemoryDefaultTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.defaultTTL = d }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(name string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]memEntry),
		name:       name,
		defaultTTL: domain.DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if value == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[key] = memEntry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]memEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stats(context.Context) (domain.Stats, error) {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return domain.Stats{CacheName: s.name, BackendKind: domain.BackendMemory, ApproxSize: int64(n)}, nil
}

// Cleanup remove entradas expiradas e devolve quantas saíram.
func (s *MemoryStore) Cleanup() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor roda Cleanup a cada `every` até o ctx encerrar.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
