// upstream-stub sobe uma API de filmes local, no formato da API pública, para
// testar o gateway sem depender da internet.
//
//	UPSTREAM_URL=http://localhost:8081/api/films go run ./cmd/gateway
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type film struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Director    string `json:"director"`
	ReleaseDate string `json:"release_date"`
	RunningTime string `json:"running_time"`
}

var films = []film{
	{ID: "2baf70d1-42bb-4437-b551-e5fed5a87abe", Title: "Castle in the Sky", Director: "Hayao Miyazaki", ReleaseDate: "1986", RunningTime: "124"},
	{ID: "12cfb892-aac0-4c5b-94af-521852e46d6a", Title: "Grave of the Fireflies", Director: "Isao Takahata", ReleaseDate: "1988", RunningTime: "89"},
	{ID: "58611129-2dbc-4a81-a72f-77ddfc1b1b49", Title: "My Neighbor Totoro", Director: "Hayao Miyazaki", ReleaseDate: "1988", RunningTime: "86"},
	{ID: "ea660b10-85c4-4ae3-8a5f-41cea3648e3e", Title: "Kiki's Delivery Service", Director: "Hayao Miyazaki", ReleaseDate: "1989", RunningTime: "102"},
	{ID: "dc2e6bd1-8156-4886-adff-b39e6043af0c", Title: "Spirited Away", Director: "Hayao Miyazaki", ReleaseDate: "2001", RunningTime: "124"},
}

type stub struct {
	// delay simula um upstream lento (útil para ver o coalescing dos misses)
	delay time.Duration
}

func (s stub) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/films", s.list)
	r.Get("/api/films/{id}", s.byID)
	return r
}

func (s stub) list(w http.ResponseWriter, r *http.Request) {
	s.wait(r)
	log.WithField("path", r.URL.Path).Info("films requested")
	writeJSON(w, http.StatusOK, films)
}

func (s stub) byID(w http.ResponseWriter, r *http.Request) {
	s.wait(r)
	id := chi.URLParam(r, "id")
	for _, f := range films {
		if f.ID == id {
			log.WithField("id", id).Info("film requested")
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	log.WithField("id", id).Info("film not found")
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "film not found"})
}

func (s stub) wait(r *http.Request) {
	if s.delay <= 0 {
		return
	}
	select {
	case <-time.After(s.delay):
	case <-r.Context().Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("encode response")
	}
}

func main() {
	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	var delay time.Duration
	if v := os.Getenv("STUB_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.WithError(err).Fatal("invalid STUB_DELAY")
		}
		delay = d
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           stub{delay: delay}.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{"addr": addr, "delay": delay.String()}).Info("upstream stub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}
