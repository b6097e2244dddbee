package application

import (
	"context"
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"

	"go.uber.org/atomic"
)

// SlotLimiter aplica um SlotPool com prazo máximo de espera e conta as recusas.
// Não sabe nada sobre HTTP: serve tanto a borda quanto as chamadas ao upstream.
//
// Um SlotLimiter nil (ou sem Pool) não limita nada.
type SlotLimiter struct {
	pool        domain.SlotPool
	waitTimeout time.Duration

	acquired atomic.Int64
	rejected atomic.Int64
}

// NewSlotLimiter cria o limitador. waitTimeout <= 0 espera apenas pelo ctx do chamador.
func NewSlotLimiter(pool domain.SlotPool, waitTimeout time.Duration) *SlotLimiter {
	return &SlotLimiter{pool: pool, waitTimeout: waitTimeout}
}

// Acquire reserva uma vaga. Em erro (domain.ErrSaturated) nada foi reservado.
func (l *SlotLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if l == nil || l.pool == nil {
		return func() {}, nil
	}
	if l.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}

	release, err = l.pool.Acquire(ctx)
	if err != nil {
		l.rejected.Inc()
		return nil, err
	}
	l.acquired.Inc()
	return release, nil
}

// SlotStats é a fotografia do limitador para logs e endpoints administrativos.
type SlotStats struct {
	InUse    int   `json:"inUse"`
	Capacity int   `json:"capacity"`
	Acquired int64 `json:"acquired"`
	Rejected int64 `json:"rejected"`
}

func (l *SlotLimiter) Stats() SlotStats {
	if l == nil || l.pool == nil {
		return SlotStats{}
	}
	return SlotStats{
		InUse:    l.pool.InUse(),
		Capacity: l.pool.Cap(),
		Acquired: l.acquired.Load(),
		Rejected: l.rejected.Load(),
	}
}
