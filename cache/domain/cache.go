// Package domain define o contrato do cache do gateway, independente do backend.
package domain

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL vale para toda entrada gravada sem TTL explícito.
const DefaultTTL = time.Hour

type BackendKind string

const (
	BackendRedis  BackendKind = "redis"
	BackendMemory BackendKind = "memory"
)

// ErrBackendUnavailable indica que o backend primário não pôde ser construído.
// Só é consumido pela seleção do cache; nunca chega ao chamador HTTP.
var ErrBackendUnavailable = errors.New("cache backend unavailable")

type Stats struct {
	CacheName   string      `json:"cacheName"`
	BackendKind BackendKind `json:"backendKind"`
	ApproxSize  int64       `json:"approxSize"`
}

// Store é um key/value de texto com TTL.
//
//   - Get devolve ok=false quando a chave não existe (ou expirou).
//   - Put com valor vazio não grava nada: ausência nunca é cacheada.
//   - Put com ttl <= 0 usa DefaultTTL. Entradas são sempre substituídas por inteiro.
//   - Clear remove apenas as entradas deste cache (namespace), nunca o backend todo.
//
// Implementações devem ser seguras para uso concorrente.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}
