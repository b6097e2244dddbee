package infra

import (
	"sync"
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"
)

// WindowTable é a tabela de janelas por cliente.
//
// O fetch-or-create usa sync.Map (sem lock global); cada janela tem seu próprio
// mutex, então clientes diferentes nunca disputam o mesmo lock. Janelas paradas há
// mais de evictAfter são removidas pela limpeza periódica.
type WindowTable struct {
	windows      sync.Map // domain.Key -> *domain.ClientWindow
	evictAfter   time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type WindowTableOption func(*WindowTable)

// WithEvictAfter define há quanto tempo uma janela precisa ter começado para ser removida.
// Deve ser maior que a janela do controle de admissão (o padrão é 2x60s).
func WithEvictAfter(d time.Duration) WindowTableOption {
	return func(t *WindowTable) { t.evictAfter = d }
}

func WithCleanupEvery(d time.Duration) WindowTableOption {
	return func(t *WindowTable) { t.cleanupEvery = d }
}

func WithClock(now func() time.Time) WindowTableOption {
	return func(t *WindowTable) { t.now = now }
}

func NewWindowTable(opts ...WindowTableOption) *WindowTable {
	t := &WindowTable{
		evictAfter:   2 * time.Minute,
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *WindowTable) CleanupEvery() time.Duration { return t.cleanupEvery }

// Window implementa domain.WindowStore.
func (t *WindowTable) Window(key domain.Key, now int64) *domain.ClientWindow {
	if w, ok := t.windows.Load(key); ok {
		return w.(*domain.ClientWindow)
	}
	w, _ := t.windows.LoadOrStore(key, &domain.ClientWindow{WindowStart: now})
	return w.(*domain.ClientWindow)
}

// Len conta as janelas ativas. Percorre a tabela inteira.
func (t *WindowTable) Len() int {
	n := 0
	t.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup remove janelas cujo início é mais antigo que evictAfter.
// A janela é marcada como Evicted sob o próprio lock, então um Check concorrente
// que já tinha a referência busca uma janela nova em vez de contar na removida.
func (t *WindowTable) Cleanup() int {
	cutoff := t.now().Add(-t.evictAfter).Unix()
	removed := 0

	t.windows.Range(func(k, v any) bool {
		w := v.(*domain.ClientWindow)
		w.Lock()
		if w.WindowStart < cutoff {
			w.Evicted = true
			if t.windows.CompareAndDelete(k, w) {
				removed++
			}
		}
		w.Unlock()
		return true
	})
	return removed
}

// StartJanitor inicia uma goroutine que remove janelas antigas periodicamente.
// Pare cancelando o contexto.
func (t *WindowTable) StartJanitor(ctx DoneContext) {
	if t.cleanupEvery <= 0 {
		return
	}

	tk := time.NewTicker(t.cleanupEvery)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				t.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}
