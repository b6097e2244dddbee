package infra

import (
	"context"
	"strings"

	"ghibli-gateway/cache/domain"

	log "github.com/sirupsen/logrus"
)

// Select escolhe o cache do processo, uma única vez, na inicialização.
//
// Tenta construir o RedisStore; em qualquer erro registra um aviso e devolve o
// MemoryStore, que fica ativo até o fim do processo (não há nova tentativa).
// Sem endereço configurado, vai direto para memória.
func Select(ctx context.Context, cfg RedisConfig, fallback ...MemoryOption) domain.Store {
	cfg = cfg.withDefaults()

	if strings.TrimSpace(cfg.Addr) == "" {
		log.WithField("cache", cfg.Namespace).Info("no redis address configured, using in-memory cache")
		return NewMemoryStore(cfg.Namespace, withTTL(cfg, fallback)...)
	}

	store, err := NewRedisStore(ctx, cfg)
	if err != nil {
		log.WithError(err).
			WithFields(log.Fields{"cache": cfg.Namespace, "addr": cfg.Addr}).
			Warn("primary cache unavailable, falling back to in-memory cache for the process lifetime")
		return NewMemoryStore(cfg.Namespace, withTTL(cfg, fallback)...)
	}

	log.WithFields(log.Fields{"cache": cfg.Namespace, "addr": cfg.Addr, "db": cfg.DB}).Info("using redis cache")
	return store
}

func withTTL(cfg RedisConfig, opts []MemoryOption) []MemoryOption {
	return append([]MemoryOption{WithMemoryDefaultTTL(cfg.DefaultTTL)}, opts...)
}
