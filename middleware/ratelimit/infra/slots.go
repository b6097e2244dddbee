package infra

import (
	"context"
	"fmt"
	"sync"

	"ghibli-gateway/middleware/ratelimit/domain"
)

// Slots é um semáforo sobre channel com capacidade fixa.
type Slots struct {
	held chan struct{}
}

var _ domain.SlotPool = (*Slots)(nil)

// NewSlots cria um pool com capacity vagas (mínimo 1).
func NewSlots(capacity int) *Slots {
	if capacity < 1 {
		capacity = 1
	}
	return &Slots{held: make(chan struct{}, capacity)}
}

func (s *Slots) Acquire(ctx context.Context) (func(), error) {
	// vaga livre não depende do ctx, mesmo se ele já estiver vencido
	select {
	case s.held <- struct{}{}:
		return s.releaser(), nil
	default:
	}

	select {
	case s.held <- struct{}{}:
		return s.releaser(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %d/%d in use: %w", domain.ErrSaturated, s.InUse(), s.Cap(), ctx.Err())
	}
}

func (s *Slots) InUse() int { return len(s.held) }

func (s *Slots) Cap() int { return cap(s.held) }

func (s *Slots) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-s.held }) }
}
