package di

import (
	"fmt"
	"net/http"

	"CryptoAgent/internal/domain/repository"
	"CryptoAgent/internal/handler/api"
	"CryptoAgent/internal/panel"
	internalrepo "CryptoAgent/internal/repository"
	"CryptoAgent/internal/service/cache"
	"CryptoAgent/internal/service/ratelimit"
	"CryptoAgent/internal/services/analysis"
	"CryptoAgent/internal/surface"
	"CryptoAgent/internal/usecase"
	pkgcache "CryptoAgent/pkg/cache"
	"CryptoAgent/pkg/config"
	xhttp "CryptoAgent/pkg/http"
	pkgkafka "CryptoAgent/pkg/kafka"
	"CryptoAgent/pkg/logger"
	"CryptoAgent/pkg/metrics"
	"CryptoAgent/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics registers the prometheus recorder, or a no-op when metrics are disabled.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if cfg.Metrics.Disabled {
		return repository.NopMetrics{}
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideCacheStore creates the response cache backend. Backend "none" yields a nil store.
func ProvideCacheStore(cfg *config.Config) (pkgcache.Service, error) {
	c := cfg.Cache
	switch c.Backend {
	case "none":
		return nil, nil
	case "memory":
		return pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(c.MemoryMaxSize),
			pkgcache.WithMemoryDefaultTTL(c.TTL),
			pkgcache.WithMemoryCleanup(c.TTL),
		), nil
	}

	remote, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(c.Redis.Host),
		pkgcache.WithRedisPort(c.Redis.Port),
		pkgcache.WithRedisPassword(c.Redis.Password),
		pkgcache.WithRedisDB(c.Redis.DB),
		pkgcache.WithRedisPool(c.Redis.PoolSize, c.Redis.PoolSize/2, cfg.Analysis.Timeout),
		pkgcache.WithRedisPrefix(c.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if c.Backend == "redis" {
		return remote, nil
	}
	return pkgcache.NewLayeredCache(remote,
		pkgcache.WithLayeredMemorySize(c.MemoryMaxSize),
		pkgcache.WithLayeredMemoryTTL(c.TTL),
	), nil
}

// ProvideAnalysisClient creates the HTTP client for the analysis endpoint.
func ProvideAnalysisClient(cfg *config.Config, l *logger.Logger, m repository.Metrics) *analysis.Client {
	a := cfg.Analysis
	return analysis.NewClient(a.BaseURL,
		analysis.WithPath(a.Path),
		analysis.WithToken(a.Token),
		analysis.WithTimeout(a.Timeout),
		analysis.WithRetry(a.Retry.MaxAttempts, a.Retry.InitialInterval, a.Retry.MaxInterval),
		analysis.WithRateLimit(a.RateLimit.RPS, a.RateLimit.Burst),
		analysis.WithLogger(l),
		analysis.WithMetrics(m),
	)
}

// ProvideAnalysisSource puts the response cache in front of the client when a store is configured.
func ProvideAnalysisSource(
	cfg *config.Config,
	client *analysis.Client,
	store pkgcache.Service,
	l *logger.Logger,
	m repository.Metrics,
) repository.AnalysisSource {
	if store == nil {
		return client
	}
	return cache.NewCachedSource(client, store, cfg.Cache.TTL,
		cache.WithLogger(l),
		cache.WithMetrics(m),
	)
}

// ProvideHub creates the websocket hub that fans surface ops out to viewers.
func ProvideHub(cfg *config.Config, l *logger.Logger, m repository.Metrics) *surface.Hub {
	ws := cfg.WebSocket
	opts := []surface.HubOption{
		surface.WithPingInterval(ws.PingInterval),
		surface.WithWriteTimeout(ws.WriteTimeout),
		surface.WithSendBuffer(ws.SendBuffer),
		surface.WithHubLogger(l),
		surface.WithHubMetrics(m),
	}
	if !cfg.Server.DisableCORS {
		opts = append(opts, surface.WithCheckOrigin(func(*http.Request) bool { return true }))
	}
	return surface.NewHub(opts...)
}

// ProvideSurfaceFactory creates canvases mirrored to the hub.
func ProvideSurfaceFactory(hub *surface.Hub) repository.SurfaceFactory {
	return surface.NewFactory(hub)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when publishing is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	k := cfg.Kafka
	if !k.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithBatchSize(k.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(k.Producer.Linger),
		pkgkafka.WithBatchBytes(k.Producer.BatchBytes),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithAutoCreateTopic(k.Producer.AutoCreateTopic),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRenderPublisher creates the render event publisher.
func ProvideRenderPublisher(producer *pkgkafka.Producer, cfg *config.Config) internalrepo.ClosablePublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Kafka.Producer.WriteTimeout)
}

// ProvideDashboard creates the panel registry with the live source wired for incremental updates.
func ProvideDashboard(
	cfg *config.Config,
	source repository.AnalysisSource,
	client *analysis.Client,
	factory repository.SurfaceFactory,
	pub internalrepo.ClosablePublisher,
	l *logger.Logger,
	m repository.Metrics,
) *usecase.Dashboard {
	p := cfg.Panel
	return usecase.NewDashboard(source, factory,
		usecase.WithTimeout(p.FetchTimeout),
		usecase.WithLogger(l),
		usecase.WithPanelOptions(
			panel.WithLiveSource(client),
			panel.WithRefreshInterval(p.RefreshInterval),
			panel.WithLatestLookback(p.MinimalLookback),
			panel.WithFetchTimeout(p.FetchTimeout),
			panel.WithPublisher(pub),
			panel.WithLogger(l),
			panel.WithMetrics(m),
		),
	)
}

// ProvideRateLimiter creates the per-client limiter for image renders.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Render.RPS, cfg.Render.Burst)
}

// ProvidePanelsHandler creates the panel HTTP handler.
func ProvidePanelsHandler(
	l *logger.Logger,
	dash *usecase.Dashboard,
	hub *surface.Hub,
	limiter *ratelimit.Limiter,
) *api.PanelsHandler {
	return api.NewPanelsHandler(l, dash, hub, limiter)
}

// ProvideHTTPServer creates the echo server with all handlers registered.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, panels *api.PanelsHandler) *xhttp.Server {
	s := cfg.Server
	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.Disabled {
		metricsPath = ""
	}
	return xhttp.NewServer([]xhttp.Handler{panels},
		xhttp.WithHost(s.Host),
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithCORS(!s.DisableCORS),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithSlowThreshold(s.SlowThreshold),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	dash *usecase.Dashboard,
	hub *surface.Hub,
	pub internalrepo.ClosablePublisher,
	store pkgcache.Service,
) *server.App {
	return server.New(cfg, l, httpServer, dash, hub, pub, store)
}
