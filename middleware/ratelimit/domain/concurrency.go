package domain

import (
	"context"
	"errors"
)

// ErrSaturated indica que nenhuma vaga ficou livre antes do prazo do Acquire.
var ErrSaturated = errors.New("no free slot")

// SlotPool é uma capacidade finita de trabalho em andamento. O gateway usa dois:
// um para requests na borda e outro para chamadas ao upstream em cache miss.
//
// Acquire bloqueia até conseguir vaga ou o ctx encerrar (ErrSaturated). O release
// devolvido pode ser chamado mais de uma vez; só a primeira chamada libera.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), err error)
	InUse() int
	Cap() int
}
