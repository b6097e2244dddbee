// Package config centraliza o carregamento de configurações do gateway.
//
// Ordem de precedência (a última vence): valores padrão, arquivo YAML apontado por
// CONFIG_FILE, variáveis de ambiente (incluindo as carregadas de um .env).
//
// No YAML, seções aninhadas viram o nome da variável: cache.connect_timeout
// equivale a CACHE_CONNECT_TIMEOUT.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Admission   AdmissionConfig
	Concurrency ConcurrencyConfig
	Cache       CacheConfig
	Upstream    UpstreamConfig
}

type ServerConfig struct {
	ListenAddr  string
	RoutePrefix string
	// AdminToken vazio deixa as rotas administrativas abertas.
	AdminToken string
}

type LogConfig struct {
	Level  string
	Format string // "text" ou "json"
}

type AdmissionConfig struct {
	Enabled      bool
	Limit        int
	Window       time.Duration
	KeyHeader    string
	TrustXFF     bool
	AddHeaders   bool
	EvictAfter   time.Duration
	CleanupEvery time.Duration

	Stats StatsConfig
}

type StatsConfig struct {
	Enabled   bool
	Backend   string // "memory" ou "redis" (usa a conexão do cache)
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type ConcurrencyConfig struct {
	Max            int
	AcquireTimeout time.Duration
}

type CacheConfig struct {
	// Host vazio desliga o Redis e usa o cache em memória.
	Host           string
	Port           int
	Username       string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	TTL            time.Duration
	Namespace      string
	Coalesce       bool
	JanitorEvery   time.Duration
}

// Addr devolve host:port, ou vazio quando o Redis está desligado.
func (c CacheConfig) Addr() string {
	if strings.TrimSpace(c.Host) == "" {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int

	// MaxInFlight limita as chamadas simultâneas em cache miss; 0 desliga.
	MaxInFlight    int
	AcquireTimeout time.Duration
	MaxBodyBytes   int64
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			RoutePrefix: "/ghibli",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Admission: AdmissionConfig{
			Enabled:      true,
			Limit:        5,
			Window:       60 * time.Second,
			EvictAfter:   2 * time.Minute,
			CleanupEvery: time.Minute,
			Stats: StatsConfig{
				Enabled: true,
				Backend: "memory",
				Prefix:  "admission:stats",
				TTL:     24 * time.Hour,
				Bucket:  "minute",
			},
		},
		Concurrency: ConcurrencyConfig{Max: 100},
		Cache: CacheConfig{
			Host:           "localhost",
			Port:           6379,
			ConnectTimeout: 10 * time.Second,
			OpTimeout:      3 * time.Second,
			TTL:            time.Hour,
			Namespace:      "ghibliFilms",
			Coalesce:       true,
			JanitorEvery:   time.Minute,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://ghibli-api.vercel.app/api/films",
			Timeout: 10 * time.Second,
			Burst:   1,

			MaxInFlight:    8,
			AcquireTimeout: 2 * time.Second,
			MaxBodyBytes:   8 << 20,
		},
	}
}

// Load lê .env (se existir), CONFIG_FILE (se definido) e o ambiente.
func Load() (Config, error) {
	_ = godotenv.Load()

	file := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			return Config{}, err
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
		v, ok := file[key]
		return v, ok
	}

	cfg, err := build(lookup)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string)
	flatten("", raw, out)
	return out, nil
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
}

func build(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	r := reader{lookup: lookup}

	r.str(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	r.str(&cfg.Server.RoutePrefix, "ROUTE_PREFIX")
	r.str(&cfg.Server.AdminToken, "ADMIN_TOKEN")

	r.str(&cfg.Log.Level, "LOG_LEVEL")
	r.str(&cfg.Log.Format, "LOG_FORMAT")

	a := &cfg.Admission
	r.boolean(&a.Enabled, "RATE_ENABLED")
	r.integer(&a.Limit, "RATE_LIMIT")
	r.duration(&a.Window, "RATE_WINDOW")
	r.str(&a.KeyHeader, "RATE_KEY_HEADER")
	r.boolean(&a.TrustXFF, "TRUST_XFF")
	r.boolean(&a.AddHeaders, "ADD_RATELIMIT_HEADERS")
	r.duration(&a.EvictAfter, "RATE_EVICT_AFTER")
	r.duration(&a.CleanupEvery, "RATE_CLEANUP_EVERY")
	r.boolean(&a.Stats.Enabled, "RATE_STATS_ENABLED")
	r.str(&a.Stats.Backend, "RATE_STATS_BACKEND")
	r.str(&a.Stats.Prefix, "RATE_STATS_PREFIX")
	r.duration(&a.Stats.TTL, "RATE_STATS_TTL")
	r.str(&a.Stats.Bucket, "RATE_STATS_BUCKET")
	r.boolean(&a.Stats.TrackKeys, "RATE_STATS_TRACK_KEYS")

	r.integer(&cfg.Concurrency.Max, "CONCURRENCY_MAX")
	r.duration(&cfg.Concurrency.AcquireTimeout, "CONCURRENCY_TIMEOUT")

	c := &cfg.Cache
	r.str(&c.Host, "CACHE_HOST")
	r.integer(&c.Port, "CACHE_PORT")
	r.str(&c.Username, "CACHE_USERNAME")
	r.str(&c.Password, "CACHE_PASSWORD")
	r.integer(&c.DB, "CACHE_DB")
	r.duration(&c.ConnectTimeout, "CACHE_CONNECT_TIMEOUT")
	r.duration(&c.OpTimeout, "CACHE_OP_TIMEOUT")
	r.duration(&c.TTL, "CACHE_TTL")
	r.str(&c.Namespace, "CACHE_NAMESPACE")
	r.boolean(&c.Coalesce, "CACHE_COALESCE")
	r.duration(&c.JanitorEvery, "CACHE_JANITOR_EVERY")
	// "none" desliga o Redis explicitamente, mesmo com host no arquivo
	if strings.EqualFold(c.Host, "none") {
		c.Host = ""
	}

	u := &cfg.Upstream
	r.str(&u.BaseURL, "UPSTREAM_URL")
	r.duration(&u.Timeout, "UPSTREAM_TIMEOUT")
	r.float(&u.RPS, "UPSTREAM_RPS")
	r.integer(&u.Burst, "UPSTREAM_BURST")
	r.integer(&u.MaxInFlight, "UPSTREAM_MAX_INFLIGHT")
	r.duration(&u.AcquireTimeout, "UPSTREAM_ACQUIRE_TIMEOUT")
	r.int64(&u.MaxBodyBytes, "UPSTREAM_MAX_BODY_BYTES")

	return cfg, r.err
}

func (c Config) Validate() error {
	switch {
	case c.Admission.Limit <= 0:
		return errors.New("RATE_LIMIT must be > 0")
	case c.Admission.Window < time.Second:
		return errors.New("RATE_WINDOW must be >= 1s")
	case c.Admission.CleanupEvery <= 0:
		return errors.New("RATE_CLEANUP_EVERY must be > 0")
	case c.Admission.EvictAfter < c.Admission.Window:
		return errors.New("RATE_EVICT_AFTER must be >= RATE_WINDOW")
	case c.Admission.Stats.Backend != "memory" && c.Admission.Stats.Backend != "redis":
		return fmt.Errorf("RATE_STATS_BACKEND must be memory or redis, got %q", c.Admission.Stats.Backend)
	case c.Concurrency.Max < 0:
		return errors.New("CONCURRENCY_MAX must be >= 0")
	case c.Cache.Port <= 0 || c.Cache.Port > 65535:
		return errors.New("CACHE_PORT must be between 1 and 65535")
	case c.Cache.TTL <= 0:
		return errors.New("CACHE_TTL must be > 0")
	case strings.TrimSpace(c.Cache.Namespace) == "":
		return errors.New("CACHE_NAMESPACE is required")
	case c.Upstream.RPS < 0:
		return errors.New("UPSTREAM_RPS must be >= 0")
	case c.Upstream.Timeout <= 0:
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	case c.Upstream.MaxInFlight < 0:
		return errors.New("UPSTREAM_MAX_INFLIGHT must be >= 0")
	case c.Upstream.MaxBodyBytes <= 0:
		return errors.New("UPSTREAM_MAX_BODY_BYTES must be > 0")
	case !strings.HasPrefix(c.Server.RoutePrefix, "/"):
		return errors.New("ROUTE_PREFIX must start with /")
	case c.Log.Format != "text" && c.Log.Format != "json":
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// reader guarda o primeiro erro de conversão; as leituras seguintes viram no-op.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) get(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	return r.lookup(key)
}

func (r *reader) fail(key string, err error) {
	r.err = fmt.Errorf("invalid %s: %w", key, err)
}

func (r *reader) str(dst *string, key string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) integer(dst *int, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = i
}

func (r *reader) int64(dst *int64, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = i
}

func (r *reader) float(dst *float64, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = f
}

func (r *reader) boolean(dst *bool, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = b
}

// duration aceita "90s"/"1m" ou um inteiro em segundos.
func (r *reader) duration(dst *time.Duration, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return
	}
	*dst = d
}
