package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão (permitida ou rejeitada).
//
// Method/Route são strings genéricas; o domínio não conhece net/http.
// Route é um rótulo de um conjunto finito (ex: "/ghibli/films/{id}"), nunca o
// path cru: os stores guardam um contador por rota sem expiração.
type StatsEvent struct {
	Key     Key
	Allowed bool
	Count   int

	Method string
	Route  string

	At time.Time
}

// StatsStore persiste estatísticas de admissão.
//
// O filtro trata erro como best-effort: falha ao gravar nunca derruba a request.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
