package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

const DefaultPrefix = "/ghibli"

// Router monta as rotas sob prefix. adminToken vazio deixa as rotas
// administrativas abertas.
func Router(h Handlers, prefix, adminToken string) http.Handler {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	r := chi.NewRouter()
	r.Get("/health", health)

	r.Route(prefix, func(r chi.Router) {
		r.Get("/films", h.allFilms)
		r.Get("/films/{id}", h.filmByID)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(adminToken))
			r.Get("/cache/stats", h.cacheStats)
			r.Delete("/cache/clear", h.cacheClear)
			r.Get("/admission/stats", h.admissionStats)
		})
	})
	return r
}

// RouteLabel rotula as requests sob prefix com os padrões do Router, para as
// estatísticas de admissão. Paths desconhecidos caem em prefix+"/*".
func RouteLabel(prefix string) func(*http.Request) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return func(r *http.Request) string {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] == "films":
			return prefix + "/films"
		case len(parts) == 2 && parts[0] == "films" && parts[1] != "":
			return prefix + "/films/{id}"
		case rest == "cache/stats", rest == "cache/clear", rest == "admission/stats":
			return prefix + "/" + rest
		}
		return prefix + "/*"
	}
}

// RequireToken exige "Authorization: Bearer <token>". Token vazio desliga a checagem.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				log.WithFields(log.Fields{"path": r.URL.Path, "remote": r.RemoteAddr}).Warn("admin request unauthorized")
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
