package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ghibli-gateway/cache/domain"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// ConnectTimeout limita a conexão e o PING de construção.
	ConnectTimeout time.Duration
	// OpTimeout limita leitura/escrita de cada comando depois de construído.
	OpTimeout time.Duration

	DefaultTTL time.Duration
	// Namespace prefixa todas as chaves: "<namespace>::<key>".
	Namespace string
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 3 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = domain.DefaultTTL
	}
	if c.Namespace == "" {
		c.Namespace = "ghibliFilms"
	}
	return c
}

// RedisStore é o cache primário, compartilhado entre processos.
// A concorrência fica com o pool do go-redis.
type RedisStore struct {
	rdb        *redis.Client
	namespace  string
	defaultTTL time.Duration
}

var _ domain.Store = (*RedisStore)(nil)

// NewRedisStore conecta e faz PING dentro de ConnectTimeout.
// Qualquer falha volta embrulhada em domain.ErrBackendUnavailable.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("%w: redis address is required", domain.ErrBackendUnavailable)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", domain.ErrBackendUnavailable, cfg.Addr, err)
	}

	return &RedisStore{
		rdb:        rdb,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// Client expõe a conexão para quem quiser reaproveitá-la (ex: estatísticas de admissão).
func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if value == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.rdb.Set(ctx, s.key(key), value, ttl).Err()
}

// Clear apaga só as chaves do namespace, via SCAN + DEL (nunca FLUSHDB).
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.pattern(), scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats conta as chaves do namespace com SCAN; o valor é aproximado se houver
// escrita concorrente.
func (s *RedisStore) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{CacheName: s.namespace, BackendKind: domain.BackendRedis}

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.pattern(), scanBatch).Result()
		if err != nil {
			return st, err
		}
		st.ApproxSize += int64(len(keys))
		if next == 0 {
			return st, nil
		}
		cursor = next
	}
}

func (s *RedisStore) key(k string) string { return s.namespace + "::" + k }

func (s *RedisStore) pattern() string { return globEscape(s.namespace) + "::*" }

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
