// Package domain define os contratos do gateway de filmes: a chamada ao upstream
// e a taxonomia de erros que chega à borda HTTP.
package domain

import (
	"context"
	"errors"
)

// AllFilmsKey é a chave de cache da listagem completa.
const AllFilmsKey = "allFilms"

// ErrUpstream cobre qualquer falha da API de terceiros (rede, status não-2xx, timeout).
// É o único erro do gateway que vira status de falha na resposta HTTP.
var ErrUpstream = errors.New("upstream error")

// UpstreamFunc busca o valor na fonte da verdade em um cache miss.
type UpstreamFunc func(ctx context.Context) (string, error)

// Upstream é a API de filmes de terceiros.
type Upstream interface {
	FetchAll(ctx context.Context) (string, error)
	FetchByID(ctx context.Context, id string) (string, error)
}

// Slots limita quantas chamadas ao upstream ficam em andamento ao mesmo tempo.
// Em erro nenhuma vaga foi reservada.
type Slots interface {
	Acquire(ctx context.Context) (release func(), err error)
}
