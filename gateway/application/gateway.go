// Package application contém o orquestrador fetch-through-cache do gateway.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	cachedomain "ghibli-gateway/cache/domain"
	"ghibli-gateway/gateway/domain"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Counters são contadores de processo, zerados no restart.
type Counters struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	UpstreamCalls int64 `json:"upstreamCalls"`
	CacheErrors   int64 `json:"cacheErrors"`
	// UpstreamBusy conta misses recusados por falta de vaga para chamar o upstream.
	UpstreamBusy  int64 `json:"upstreamBusy"`
}

// Gateway serve do cache quando possível e, no miss, chama o upstream e grava o
// resultado. O cache é best-effort: erro de leitura vira miss e erro de escrita é
// descartado (com log), nunca falhando a request.
type Gateway struct {
	store     cachedomain.Store
	ttl       time.Duration
	opTimeout time.Duration

	upstreamTimeout time.Duration
	slots           domain.Slots

	coalesce bool
	group    singleflight.Group

	hits          atomic.Int64
	misses        atomic.Int64
	upstreamCalls atomic.Int64
	upstreamBusy  atomic.Int64
	cacheErrors   atomic.Int64
}

type Option func(*Gateway)

func WithTTL(d time.Duration) Option {
	return func(g *Gateway) { g.ttl = d }
}

// WithOpTimeout limita cada Get/Put no cache.
func WithOpTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.opTimeout = d }
}

// WithUpstreamTimeout limita a chamada ao upstream (incluindo a espera por vaga e
// pelo rate limit de saída) quando o chamador não tem prazo menor.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.upstreamTimeout = d }
}

// WithUpstreamSlots limita as chamadas simultâneas ao upstream. Nil desliga.
func WithUpstreamSlots(s domain.Slots) Option {
	return func(g *Gateway) { g.slots = s }
}

// WithCoalescing faz misses concorrentes da mesma chave esperarem uma única chamada
// ao upstream. Desligado, cada miss chama o upstream e a última escrita vence.
func WithCoalescing(on bool) Option {
	return func(g *Gateway) { g.coalesce = on }
}

func New(store cachedomain.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:     store,
		ttl:       cachedomain.DefaultTTL,
		opTimeout: 3 * time.Second,
		coalesce:  true,

		upstreamTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.upstreamTimeout <= 0 {
		g.upstreamTimeout = 10 * time.Second
	}
	return g
}

// Fetch devolve o valor de key, do cache ou do upstream.
//
// Falha do upstream volta como ErrUpstream, não é cacheada e não é repetida.
// Corpo vazio é devolvido mas não é gravado.
func (g *Gateway) Fetch(ctx context.Context, key string, upstream domain.UpstreamFunc) (string, error) {
	if v, ok := g.lookup(ctx, key); ok {
		g.hits.Inc()
		return v, nil
	}
	g.misses.Inc()

	if !g.coalesce {
		return g.load(ctx, key, upstream)
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		// outro caller pode ter acabado de gravar entre o miss e o Do
		if v, ok := g.lookup(ctx, key); ok {
			return v, nil
		}
		return g.load(ctx, key, upstream)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Gateway) Stats(ctx context.Context) (cachedomain.Stats, error) {
	return g.store.Stats(ctx)
}

func (g *Gateway) Clear(ctx context.Context) error {
	return g.store.Clear(ctx)
}

func (g *Gateway) Counters() Counters {
	return Counters{
		Hits:          g.hits.Load(),
		Misses:        g.misses.Load(),
		UpstreamCalls: g.upstreamCalls.Load(),
		UpstreamBusy:  g.upstreamBusy.Load(),
		CacheErrors:   g.cacheErrors.Load(),
	}
}

func (g *Gateway) lookup(ctx context.Context, key string) (string, bool) {
	getCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	v, ok, err := g.store.Get(getCtx, key)
	if err != nil {
		g.cacheErrors.Inc()
		log.WithError(err).WithField("key", key).Warn("cache read failed, treating as miss")
		return "", false
	}
	return v, ok
}

func (g *Gateway) load(ctx context.Context, key string, upstream domain.UpstreamFunc) (string, error) {
	callCtx, cancel := g.upstreamContext(ctx)
	defer cancel()

	if g.slots != nil {
		release, err := g.slots.Acquire(callCtx)
		if err != nil {
			g.upstreamBusy.Inc()
			return "", fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		defer release()
	}

	g.upstreamCalls.Inc()
	body, err := upstream(callCtx)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstream) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		return "", err
	}
	if body == "" {
		return body, nil
	}

	putCtx, cancelPut := context.WithTimeout(context.WithoutCancel(ctx), g.opTimeout)
	defer cancelPut()
	if err := g.store.Put(putCtx, key, body, g.ttl); err != nil {
		g.cacheErrors.Inc()
		log.WithError(err).WithField("key", key).Warn("cache write failed, dropping")
	}
	return body, nil
}

// upstreamContext desliga o cancelamento do chamador (cliente que desconecta não
// derruba a chamada em andamento) mas mantém um prazo: o do chamador, se houver,
// limitado por upstreamTimeout.
func (g *Gateway) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(g.upstreamTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}
