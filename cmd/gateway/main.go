package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cacheinfra "ghibli-gateway/cache/infra"
	"ghibli-gateway/config"
	"ghibli-gateway/gateway"
	"ghibli-gateway/gateway/application"
	gatewayinfra "ghibli-gateway/gateway/infra"
	"ghibli-gateway/middleware/ratelimit"
	rlapp "ghibli-gateway/middleware/ratelimit/application"
	"ghibli-gateway/middleware/ratelimit/domain"
	"ghibli-gateway/middleware/ratelimit/infra"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	setupLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// cache: Redis se alcançável na subida, senão memória até o fim do processo
	store := cacheinfra.Select(ctx, cacheinfra.RedisConfig{
		Addr:           cfg.Cache.Addr(),
		Username:       cfg.Cache.Username,
		Password:       cfg.Cache.Password,
		DB:             cfg.Cache.DB,
		ConnectTimeout: cfg.Cache.ConnectTimeout,
		OpTimeout:      cfg.Cache.OpTimeout,
		DefaultTTL:     cfg.Cache.TTL,
		Namespace:      cfg.Cache.Namespace,
	})
	var redisStore *cacheinfra.RedisStore
	switch s := store.(type) {
	case *cacheinfra.RedisStore:
		redisStore = s
		defer func() { _ = s.Close() }()
	case *cacheinfra.MemoryStore:
		s.StartJanitor(ctx, cfg.Cache.JanitorEvery)
	}

	filmOpts := []application.Option{
		application.WithTTL(cfg.Cache.TTL),
		application.WithOpTimeout(cfg.Cache.OpTimeout),
		application.WithCoalescing(cfg.Cache.Coalesce),
		application.WithUpstreamTimeout(cfg.Upstream.Timeout),
	}
	if cfg.Upstream.MaxInFlight > 0 {
		filmOpts = append(filmOpts, application.WithUpstreamSlots(
			rlapp.NewSlotLimiter(infra.NewSlots(cfg.Upstream.MaxInFlight), cfg.Upstream.AcquireTimeout),
		))
	}
	films := application.New(store, filmOpts...)
	upstream := gatewayinfra.NewHTTPUpstream(cfg.Upstream.BaseURL,
		gatewayinfra.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		gatewayinfra.WithRateLimit(cfg.Upstream.RPS, cfg.Upstream.Burst),
		gatewayinfra.WithMaxBodyBytes(cfg.Upstream.MaxBodyBytes),
	)

	statsStore, totals := admissionStats(cfg.Admission.Stats, redisStore)

	windows := infra.NewWindowTable(
		infra.WithEvictAfter(cfg.Admission.EvictAfter),
		infra.WithCleanupEvery(cfg.Admission.CleanupEvery),
	)
	windows.StartJanitor(ctx)

	h := gateway.Router(gateway.Handlers{
		Films:     films,
		Upstream:  upstream,
		Admission: totals,
	}, cfg.Server.RoutePrefix, cfg.Server.AdminToken)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.AcquireTimeout,
	})(h)
	if cfg.Admission.Enabled {
		h = ratelimit.BoundaryFilter(ratelimit.Options{
			Admission: rlapp.AdmissionController{
				Store:  windows,
				Limit:  cfg.Admission.Limit,
				Window: cfg.Admission.Window,
			},
			Stats:               statsStore,
			PathPrefix:          cfg.Server.RoutePrefix,
			RouteFn:             gateway.RouteLabel(cfg.Server.RoutePrefix),
			KeyHeader:           cfg.Admission.KeyHeader,
			TrustXForwardedFor:  cfg.Admission.TrustXFF,
			AddRateLimitHeaders: cfg.Admission.AddHeaders,
		})(h)
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"addr":     cfg.Server.ListenAddr,
		"prefix":   cfg.Server.RoutePrefix,
		"upstream": cfg.Upstream.BaseURL,
	}).Info("gateway listening")
	log.WithFields(log.Fields{
		"timeout":     cfg.Upstream.Timeout.String(),
		"rps":         cfg.Upstream.RPS,
		"maxInFlight": cfg.Upstream.MaxInFlight,
	}).Info("upstream")
	log.WithFields(log.Fields{
		"enabled": cfg.Admission.Enabled,
		"limit":   cfg.Admission.Limit,
		"window":  cfg.Admission.Window.String(),
		"stats":   cfg.Admission.Stats.Enabled,
	}).Info("admission")
	log.WithFields(log.Fields{
		"max":            cfg.Concurrency.Max,
		"acquireTimeout": cfg.Concurrency.AcquireTimeout.String(),
	}).Info("concurrency")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}

// admissionStats escolhe onde gravar as decisões. O backend Redis reaproveita a
// conexão do cache; sem ela, cai para memória.
func admissionStats(cfg config.StatsConfig, redisStore *cacheinfra.RedisStore) (domain.StatsStore, gateway.AdmissionTotals) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Backend == "redis" {
		if redisStore != nil {
			s := infra.NewRedisStatsStore(redisStore.Client(),
				infra.WithStatsPrefix(cfg.Prefix),
				infra.WithStatsTTL(cfg.TTL),
				infra.WithStatsBucket(cfg.Bucket),
				infra.WithStatsTrackKeys(cfg.TrackKeys),
			)
			return s, s
		}
		log.Warn("admission stats backend is redis but the cache fell back to memory; keeping stats in memory")
	}
	s := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.TrackKeys))
	return s, s
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
