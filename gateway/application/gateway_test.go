package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	cachedomain "ghibli-gateway/cache/domain"
	cacheinfra "ghibli-gateway/cache/infra"
	"ghibli-gateway/gateway/domain"
	gatewayinfra "ghibli-gateway/gateway/infra"
	rlapp "ghibli-gateway/middleware/ratelimit/application"
	rldomain "ghibli-gateway/middleware/ratelimit/domain"
	rlinfra "ghibli-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
)

type GatewayTestSuite struct {
	suite.Suite

	ctx   context.Context
	store *cacheinfra.MemoryStore
	calls atomic.Int64
}

func TestGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(GatewayTestSuite))
}

func (s *GatewayTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = cacheinfra.NewMemoryStore("ghibliFilms")
	s.calls.Store(0)
}

func (s *GatewayTestSuite) upstreamOK(body string) domain.UpstreamFunc {
	return func(context.Context) (string, error) {
		s.calls.Inc()
		return body, nil
	}
}

func (s *GatewayTestSuite) upstreamFails() domain.UpstreamFunc {
	return func(context.Context) (string, error) {
		s.calls.Inc()
		return "", errors.New("connection refused")
	}
}

func (s *GatewayTestSuite) TestSecondFetchServedFromCache() {
	g := New(s.store)

	v, err := g.Fetch(s.ctx, domain.AllFilmsKey, s.upstreamOK(`[{"id":"1"}]`))
	s.Require().NoError(err)
	s.Equal(`[{"id":"1"}]`, v)
	s.EqualValues(1, s.calls.Load())

	cached, ok, _ := s.store.Get(s.ctx, domain.AllFilmsKey)
	s.True(ok)
	s.Equal(v, cached)

	v, err = g.Fetch(s.ctx, domain.AllFilmsKey, s.upstreamOK("never"))
	s.Require().NoError(err)
	s.Equal(`[{"id":"1"}]`, v)
	s.EqualValues(1, s.calls.Load())

	c := g.Counters()
	s.EqualValues(1, c.Hits)
	s.EqualValues(1, c.Misses)
	s.EqualValues(1, c.UpstreamCalls)
}

func (s *GatewayTestSuite) TestUpstreamFailureIsNotCached() {
	g := New(s.store)

	_, err := g.Fetch(s.ctx, "42", s.upstreamFails())
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrUpstream))

	_, ok, _ := s.store.Get(s.ctx, "42")
	s.False(ok)

	// sem retry automático
	s.EqualValues(1, s.calls.Load())
}

func (s *GatewayTestSuite) TestUpstreamErrorAlreadyTypedIsKept() {
	g := New(s.store)
	_, err := g.Fetch(s.ctx, "k", func(context.Context) (string, error) {
		return "", domain.ErrUpstream
	})
	s.Equal(domain.ErrUpstream, err)
}

func (s *GatewayTestSuite) TestEmptyBodyIsReturnedButNotCached() {
	g := New(s.store)

	v, err := g.Fetch(s.ctx, "k", s.upstreamOK(""))
	s.Require().NoError(err)
	s.Empty(v)

	_, err = g.Fetch(s.ctx, "k", s.upstreamOK(""))
	s.Require().NoError(err)
	s.EqualValues(2, s.calls.Load())
}

func (s *GatewayTestSuite) TestStatsAndClearDelegateToStore() {
	g := New(s.store)
	_, _ = g.Fetch(s.ctx, "a", s.upstreamOK("1"))
	_, _ = g.Fetch(s.ctx, "b", s.upstreamOK("2"))

	st, err := g.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(cachedomain.BackendMemory, st.BackendKind)
	s.EqualValues(2, st.ApproxSize)

	s.Require().NoError(g.Clear(s.ctx))
	s.Require().NoError(g.Clear(s.ctx))
	_, ok, _ := s.store.Get(s.ctx, "a")
	s.False(ok)
}

func (s *GatewayTestSuite) TestCoalescesConcurrentMisses() {
	g := New(s.store, WithCoalescing(true))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	upstream := func(context.Context) (string, error) {
		s.calls.Inc()
		once.Do(func() { close(started) })
		<-release
		return "films", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Fetch(s.ctx, domain.AllFilmsKey, upstream)
			s.NoError(err)
			results[i] = v
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	s.EqualValues(1, s.calls.Load())
	for _, v := range results {
		s.Equal("films", v)
	}
}

func (s *GatewayTestSuite) TestWithoutCoalescingEveryMissCallsUpstream() {
	g := New(s.store, WithCoalescing(false))

	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	upstream := func(context.Context) (string, error) {
		s.calls.Inc()
		arrived.Done()
		<-release
		return "films", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Fetch(s.ctx, domain.AllFilmsKey, upstream)
			s.NoError(err)
		}()
	}

	done := make(chan struct{})
	go func() { arrived.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(release)
		s.FailNow("misses did not reach upstream independently")
	}
	close(release)
	wg.Wait()

	s.EqualValues(n, s.calls.Load())
}

func (s *GatewayTestSuite) TestUpstreamNotCancelledWithClient() {
	g := New(s.store)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	v, err := g.Fetch(ctx, "k", func(ctx context.Context) (string, error) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "ok", nil
	})
	s.Require().NoError(err)
	s.Equal("ok", v)
}

// brokenStore simula falhas do backend depois de construído.
type brokenStore struct{ cachedomain.Store }

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("i/o timeout")
}

func (brokenStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("i/o timeout")
}

func (s *GatewayTestSuite) TestCacheFailuresDegradeToUpstream() {
	g := New(brokenStore{})

	v, err := g.Fetch(s.ctx, "k", s.upstreamOK("body"))
	s.Require().NoError(err)
	s.Equal("body", v)

	v, err = g.Fetch(s.ctx, "k", s.upstreamOK("body"))
	s.Require().NoError(err)
	s.Equal("body", v)
	s.EqualValues(2, s.calls.Load())
	// leitura, releitura dentro do singleflight e escrita, por fetch
	s.EqualValues(6, g.Counters().CacheErrors)
}

func (s *GatewayTestSuite) TestWorksOnFallbackWhenPrimaryIsDown() {
	mr := miniredis.RunT(s.T())
	addr := mr.Addr()
	mr.Close()

	store := cacheinfra.Select(s.ctx, cacheinfra.RedisConfig{Addr: addr, ConnectTimeout: 200 * time.Millisecond})
	g := New(store)

	_, err := g.Fetch(s.ctx, domain.AllFilmsKey, s.upstreamOK("films"))
	s.Require().NoError(err)
	v, err := g.Fetch(s.ctx, domain.AllFilmsKey, s.upstreamOK("other"))
	s.Require().NoError(err)
	s.Equal("films", v)
	s.EqualValues(1, s.calls.Load())

	st, err := g.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(cachedomain.BackendMemory, st.BackendKind)
}

func (s *GatewayTestSuite) TestRedisEntryExpiresAfterTTL() {
	mr := miniredis.RunT(s.T())
	store, err := cacheinfra.NewRedisStore(s.ctx, cacheinfra.RedisConfig{Addr: mr.Addr()})
	s.Require().NoError(err)
	defer store.Close()

	g := New(store, WithTTL(time.Minute))
	_, err = g.Fetch(s.ctx, "1", s.upstreamOK("totoro"))
	s.Require().NoError(err)

	mr.FastForward(2 * time.Minute)
	_, err = g.Fetch(s.ctx, "1", s.upstreamOK("totoro"))
	s.Require().NoError(err)
	s.EqualValues(2, s.calls.Load())
}

func (s *GatewayTestSuite) filmsServer(body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Inc()
		_, _ = w.Write([]byte(body))
	}))
	s.T().Cleanup(srv.Close)
	return srv
}

func (s *GatewayTestSuite) TestOutboundRateWaitHonoursCallerDeadline() {
	srv := s.filmsServer("[]")
	// uma chamada a cada 5s
	up := gatewayinfra.NewHTTPUpstream(srv.URL, gatewayinfra.WithRateLimit(0.2, 1))
	g := New(s.store)

	_, err := g.Fetch(s.ctx, domain.AllFilmsKey, up.FetchAll)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = g.Fetch(ctx, "1", func(ctx context.Context) (string, error) { return up.FetchByID(ctx, "1") })
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrUpstream))
	s.Less(time.Since(start), time.Second)

	_, ok, _ := s.store.Get(s.ctx, "1")
	s.False(ok)
	s.EqualValues(1, s.calls.Load())
}

func (s *GatewayTestSuite) TestUpstreamTimeoutBoundsCallsWithoutDeadline() {
	g := New(s.store, WithUpstreamTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := g.Fetch(s.ctx, "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrUpstream))
	s.True(errors.Is(err, context.DeadlineExceeded))
	s.Less(time.Since(start), time.Second)
}

func (s *GatewayTestSuite) TestOversizedUpstreamBodyIsNotCached() {
	srv := s.filmsServer(strings.Repeat("x", 2048))
	up := gatewayinfra.NewHTTPUpstream(srv.URL, gatewayinfra.WithMaxBodyBytes(1024))
	g := New(s.store)

	_, err := g.Fetch(s.ctx, domain.AllFilmsKey, up.FetchAll)
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrUpstream))

	_, ok, _ := s.store.Get(s.ctx, domain.AllFilmsKey)
	s.False(ok)
}

func (s *GatewayTestSuite) TestUpstreamSlotsBoundConcurrentMisses() {
	slots := rlapp.NewSlotLimiter(rlinfra.NewSlots(1), 20*time.Millisecond)
	g := New(s.store, WithUpstreamSlots(slots), WithCoalescing(false))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := g.Fetch(s.ctx, "a", func(context.Context) (string, error) {
			close(started)
			<-release
			return "a", nil
		})
		done <- err
	}()
	<-started

	// a única vaga está ocupada pelo miss de "a"
	_, err := g.Fetch(s.ctx, "b", s.upstreamOK("b"))
	s.Require().Error(err)
	s.True(errors.Is(err, domain.ErrUpstream))
	s.True(errors.Is(err, rldomain.ErrSaturated))
	s.EqualValues(0, s.calls.Load())

	close(release)
	s.Require().NoError(<-done)

	// vaga devolvida: o próximo miss passa
	v, err := g.Fetch(s.ctx, "b", s.upstreamOK("b"))
	s.Require().NoError(err)
	s.Equal("b", v)

	c := g.Counters()
	s.EqualValues(1, c.UpstreamBusy)
	s.EqualValues(2, c.UpstreamCalls)
	st := slots.Stats()
	s.EqualValues(1, st.Rejected)
	s.Equal(0, st.InUse)
}
