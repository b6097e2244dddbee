package ratelimit

import (
	"net/http"
	"time"

	"ghibli-gateway/middleware/ratelimit/application"
	"ghibli-gateway/middleware/ratelimit/infra"

	log "github.com/sirupsen/logrus"
)

type ConcurrencyOptions struct {
	// Limiter já montado (ex: para expor Stats). Se nil, um é criado a partir de Max.
	Limiter *application.SlotLimiter

	Max            int
	AcquireTimeout time.Duration
	RejectStatus   int
}

// ConcurrencyMiddleware limita quantas requests o gateway processa ao mesmo tempo.
// Sem Limiter e com Max <= 0 o limite fica desligado.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	limiter := opts.Limiter
	if limiter == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		limiter = application.NewSlotLimiter(infra.NewSlots(opts.Max), opts.AcquireTimeout)
	}
	status := opts.RejectStatus
	if status == 0 {
		status = http.StatusServiceUnavailable
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := limiter.Acquire(r.Context())
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Debug("request rejected, gateway saturated")
				http.Error(w, http.StatusText(status), status)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
