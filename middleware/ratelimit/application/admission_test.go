package application

import (
	"sync"
	"testing"
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"
)

// mapStore é uma WindowStore mínima para os testes do caso de uso.
type mapStore struct {
	mu      sync.Mutex
	windows map[domain.Key]*domain.ClientWindow
}

func newMapStore() *mapStore {
	return &mapStore{windows: make(map[domain.Key]*domain.ClientWindow)}
}

func (s *mapStore) Window(key domain.Key, now int64) *domain.ClientWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = &domain.ClientWindow{WindowStart: now}
		s.windows[key] = w
	}
	return w
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newController(store domain.WindowStore, clk *fakeClock) AdmissionController {
	return AdmissionController{Store: store, Limit: 5, Window: time.Minute, Now: clk.Now}
}

func TestAdmission_AllowsWhenNoStore(t *testing.T) {
	dec := AdmissionController{}.Check("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed without store")
	}
}

func TestAdmission_AllowsUpToLimitThenRejects(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newController(newMapStore(), clk)

	for i := 1; i <= 5; i++ {
		dec := c.Check("10.0.0.1")
		if !dec.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if dec.Count != i {
			t.Fatalf("expected count %d, got %d", i, dec.Count)
		}
		clk.Advance(400 * time.Millisecond)
	}

	dec := c.Check("10.0.0.1")
	if dec.Allowed {
		t.Fatalf("expected 6th request to be rejected")
	}
	if dec.Remaining() != 0 {
		t.Fatalf("expected remaining 0, got %d", dec.Remaining())
	}
}

func TestAdmission_StaysRejectedUntilWindowResets(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newController(newMapStore(), clk)

	for i := 0; i < 5; i++ {
		c.Check("k")
	}
	// ainda dentro da janela (now - start == 60 não é estritamente maior)
	clk.Advance(60 * time.Second)
	if dec := c.Check("k"); dec.Allowed {
		t.Fatalf("expected rejection at exactly the window length")
	}

	clk.Advance(1 * time.Second)
	dec := c.Check("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed after window reset")
	}
	if dec.Count != 1 {
		t.Fatalf("expected counter restarted at 1, got %d", dec.Count)
	}
}

func TestAdmission_ClientsAreIndependent(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newController(newMapStore(), clk)

	for i := 0; i < 6; i++ {
		c.Check("a")
	}
	if dec := c.Check("b"); !dec.Allowed {
		t.Fatalf("expected other client to be allowed")
	}
}

func TestAdmission_BoundaryBurstIsAccepted(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newController(newMapStore(), clk)

	c.Check("k") // abre a janela
	clk.Advance(59 * time.Second)
	for i := 0; i < 4; i++ {
		if !c.Check("k").Allowed {
			t.Fatalf("expected tail request %d allowed", i)
		}
	}
	clk.Advance(2 * time.Second)
	for i := 0; i < 5; i++ {
		if !c.Check("k").Allowed {
			t.Fatalf("expected head request %d allowed in the new window", i)
		}
	}
}

// evictingStore devolve uma janela já removida pelo janitor na primeira chamada.
type evictingStore struct {
	calls int
	inner *mapStore
}

func (s *evictingStore) Window(key domain.Key, now int64) *domain.ClientWindow {
	s.calls++
	if s.calls == 1 {
		return &domain.ClientWindow{WindowStart: now, Count: 5, Evicted: true}
	}
	return s.inner.Window(key, now)
}

func TestAdmission_RetriesEvictedWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &evictingStore{inner: newMapStore()}
	c := newController(store, clk)

	dec := c.Check("k")
	if !dec.Allowed || dec.Count != 1 {
		t.Fatalf("expected fresh window, got %+v", dec)
	}
	if store.calls != 2 {
		t.Fatalf("expected store to be asked twice, got %d", store.calls)
	}
}

func TestAdmission_ConcurrentSameClientCountsExactly(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := AdmissionController{Store: newMapStore(), Limit: 50, Window: time.Minute, Now: clk.Now}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Check("hot").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed, got %d", allowed)
	}
}
