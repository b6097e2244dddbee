package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ghibli-gateway/middleware/ratelimit/domain"

	log "github.com/sirupsen/logrus"
)

// RejectMessage é o corpo fixo da resposta 429.
const RejectMessage = "Too Many Requests - Rate limit exceeded. Try again later."

type KeyFunc func(r *http.Request) string

// RouteFunc devolve o rótulo da rota usado nas estatísticas. O conjunto de rótulos
// precisa ser finito: nunca devolva o path cru, que é escolhido pelo cliente.
type RouteFunc func(r *http.Request) string

// Admission é o que o filtro precisa do controle de admissão.
// application.AdmissionController satisfaz esta interface.
type Admission interface {
	Check(key domain.Key) domain.Decision
}

type Options struct {
	Admission Admission
	Stats     domain.StatsStore

	// PathPrefix limita o filtro às rotas com este prefixo. Vazio protege tudo.
	PathPrefix string

	// RouteFn rotula a request nas estatísticas. Nil agrupa tudo sob PathPrefix.
	RouteFn RouteFunc

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	AddRateLimitHeaders bool
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For é o cliente original
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// BoundaryFilter roda antes de qualquer handler. Fora do prefixo protegido a request
// passa direto; dentro dele, a chave do cliente é consultada no controle de admissão
// e, se rejeitada, a resposta 429 é escrita sem chamar o próximo handler.
//
// A rejeição não define Retry-After.
func BoundaryFilter(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.RouteFn == nil {
		label := opts.PathPrefix
		if label == "" {
			label = "/"
		}
		opts.RouteFn = func(*http.Request) string { return label }
	}

	return func(next http.Handler) http.Handler {
		if opts.Admission == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, opts.PathPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			key := domain.Key(opts.KeyFn(r))
			dec := opts.Admission.Check(key)

			if opts.Stats != nil {
				err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     key,
					Allowed: dec.Allowed,
					Count:   dec.Count,
					Method:  methodLabel(r.Method),
					Route:   opts.RouteFn(r),
					At:      time.Now(),
				})
				if err != nil {
					log.WithError(err).Debug("admission stats record failed")
				}
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining()))
			}

			if !dec.Allowed {
				log.WithFields(log.Fields{"client": key, "path": r.URL.Path, "count": dec.Count}).
					Debug("admission rejected")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(RejectMessage))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// methodLabel limita o método aos verbos conhecidos; o resto vira OTHER.
func methodLabel(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return "OTHER"
}
