package gateway

import (
	"context"
	"errors"
	"net/http"

	cachedomain "ghibli-gateway/cache/domain"
	"ghibli-gateway/gateway/application"
	"ghibli-gateway/gateway/domain"
	rlinfra "ghibli-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const (
	msgFilmsFailed = "Error fetching films from Ghibli API"
	msgFilmFailed  = "Error fetching film from Ghibli API"
	msgCleared     = "Cache cleared successfully"
)

// Films é o que os handlers precisam do orquestrador fetch-through-cache.
type Films interface {
	Fetch(ctx context.Context, key string, upstream domain.UpstreamFunc) (string, error)
	Stats(ctx context.Context) (cachedomain.Stats, error)
	Clear(ctx context.Context) error
	Counters() application.Counters
}

// AdmissionTotals expõe os totais de decisões de admissão.
type AdmissionTotals interface {
	Totals(ctx context.Context) (rlinfra.Counters, error)
}

type Handlers struct {
	Films     Films
	Upstream  domain.Upstream
	Admission AdmissionTotals
}

type cacheStatsResponse struct {
	cachedomain.Stats
	Counters application.Counters `json:"counters"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h Handlers) allFilms(w http.ResponseWriter, r *http.Request) {
	body, err := h.Films.Fetch(r.Context(), domain.AllFilmsKey, h.Upstream.FetchAll)
	if err != nil {
		upstreamFailed(w, r, err, msgFilmsFailed)
		return
	}
	writeRaw(w, body)
}

func (h Handlers) filmByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := h.Films.Fetch(r.Context(), id, func(ctx context.Context) (string, error) {
		return h.Upstream.FetchByID(ctx, id)
	})
	if err != nil {
		upstreamFailed(w, r, err, msgFilmFailed)
		return
	}
	writeRaw(w, body)
}

func (h Handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Films.Stats(r.Context())
	if err != nil {
		log.WithError(err).Error("cache stats failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cacheStatsResponse{Stats: st, Counters: h.Films.Counters()})
}

func (h Handlers) cacheClear(w http.ResponseWriter, r *http.Request) {
	if err := h.Films.Clear(r.Context()); err != nil {
		log.WithError(err).Error("cache clear failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	log.Info("cache cleared")
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: msgCleared})
}

func (h Handlers) admissionStats(w http.ResponseWriter, r *http.Request) {
	if h.Admission == nil {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "error", Message: "admission stats disabled"})
		return
	}
	totals, err := h.Admission.Totals(r.Context())
	if err != nil {
		log.WithError(err).Error("admission stats failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func upstreamFailed(w http.ResponseWriter, r *http.Request, err error, msg string) {
	entry := log.WithError(err).WithField("path", r.URL.Path)
	if !errors.Is(err, domain.ErrUpstream) {
		entry = entry.WithField("unexpected", true)
	}
	entry.Error("upstream fetch failed")
	http.Error(w, msg, http.StatusInternalServerError)
}

// writeRaw repassa o corpo do upstream sem re-serializar.
func writeRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
