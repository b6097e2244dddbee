package application

import (
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// AdmissionController decide se a requisição de um cliente é admitida,
// contando requisições em uma janela fixa por cliente.
//
// A política é janela fixa, não deslizante: Limit requisições no fim de uma janela
// seguidas de Limit no início da próxima são permitidas (até 2x Limit em poucos
// segundos na virada da janela).
//
// Ele não sabe nada sobre HTTP e não falha: ausência de janela equivale a uma
// janela nova.
type AdmissionController struct {
	Store  domain.WindowStore
	Limit  int
	Window time.Duration

	// Now permite simular o relógio em testes. Nil usa time.Now.
	Now func() time.Time
}

func (c AdmissionController) Check(key domain.Key) domain.Decision {
	if c.Store == nil {
		return domain.Decision{Allowed: true}
	}
	limit := c.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	window := int64(c.Window / time.Second)
	if window <= 0 {
		window = int64(DefaultWindow / time.Second)
	}
	now := c.now().Unix()

	for {
		w := c.Store.Window(key, now)
		w.Lock()
		if w.Evicted {
			// removida pelo janitor entre o fetch e o lock; pega a nova
			w.Unlock()
			continue
		}
		if now-w.WindowStart > window {
			w.WindowStart = now
			w.Count = 0
		}
		w.Count++
		dec := domain.Decision{
			Allowed:     w.Count <= limit,
			Count:       w.Count,
			Limit:       limit,
			WindowStart: w.WindowStart,
		}
		w.Unlock()
		return dec
	}
}

func (c AdmissionController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
