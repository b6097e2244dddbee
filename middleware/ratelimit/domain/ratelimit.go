package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "sync"

// Key identifica um cliente (ex: IP de origem, valor de header confiável).
type Key string

// ClientWindow é a janela fixa de um cliente.
//
// Count só reflete requisições recebidas desde WindowStart (epoch em segundos).
// Todos os campos são protegidos pelo mutex embutido: quem lê ou altera a janela
// deve segurar Lock/Unlock.
type ClientWindow struct {
	sync.Mutex

	WindowStart int64
	Count       int

	// Evicted indica que a janela foi removida da tabela pela limpeza periódica.
	// Quem encontrar uma janela marcada deve buscar uma nova na store.
	Evicted bool
}

// WindowStore obtém (ou cria, de forma atômica) a janela de um cliente.
// Implementações devem ser seguras para uso concorrente.
type WindowStore interface {
	Window(key Key, now int64) *ClientWindow
}

type Decision struct {
	Allowed bool

	// Count é o contador da janela após esta requisição.
	Count int
	Limit int

	WindowStart int64
}

// Remaining é quantas requisições ainda cabem na janela atual.
func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}
