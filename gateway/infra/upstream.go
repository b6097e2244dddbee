// Package infra contém o cliente HTTP da API de filmes de terceiros.
package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ghibli-gateway/gateway/domain"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://ghibli-api.vercel.app/api/films"
	DefaultTimeout = 10 * time.Second

	// corpo maior que isso é erro, nunca truncado; a listagem completa fica bem abaixo
	DefaultMaxBodyBytes = 8 << 20
)

// HTTPUpstream busca filmes via GET em BaseURL (listagem) e BaseURL/<id>.
type HTTPUpstream struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	maxBody int64
}

type UpstreamOption func(*HTTPUpstream)

func WithHTTPClient(c *http.Client) UpstreamOption {
	return func(u *HTTPUpstream) { u.client = c }
}

// WithMaxBodyBytes define o maior corpo aceito do upstream.
func WithMaxBodyBytes(n int64) UpstreamOption {
	return func(u *HTTPUpstream) {
		if n > 0 {
			u.maxBody = n
		}
	}
}

// WithRateLimit limita as chamadas de saída (token bucket). rps <= 0 desliga.
func WithRateLimit(rps float64, burst int) UpstreamOption {
	return func(u *HTTPUpstream) {
		if rps <= 0 {
			u.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewHTTPUpstream(baseURL string, opts ...UpstreamOption) *HTTPUpstream {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u := &HTTPUpstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *HTTPUpstream) FetchAll(ctx context.Context) (string, error) {
	return u.get(ctx, u.baseURL)
}

func (u *HTTPUpstream) FetchByID(ctx context.Context, id string) (string, error) {
	return u.get(ctx, u.baseURL+"/"+url.PathEscape(id))
}

func (u *HTTPUpstream) get(ctx context.Context, target string) (string, error) {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate wait: %w", domain.ErrUpstream, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", domain.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %w", domain.ErrUpstream, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", domain.ErrUpstream, err)
	}
	if int64(len(body)) > u.maxBody {
		return "", fmt.Errorf("%w: GET %s: body exceeds %d bytes", domain.ErrUpstream, target, u.maxBody)
	}

	log.WithFields(log.Fields{
		"url":     target,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("upstream call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: GET %s: status %d", domain.ErrUpstream, target, resp.StatusCode)
	}
	return string(body), nil
}
