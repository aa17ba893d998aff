package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"FinVerdict/internal/domain/repository"
	domsvc "FinVerdict/internal/domain/service"
	"FinVerdict/internal/handler/api"
	"FinVerdict/internal/handler/stream"
	internalrepo "FinVerdict/internal/repository"
	"FinVerdict/internal/service/ratelimit"
	"FinVerdict/internal/services/analytics"
	"FinVerdict/internal/services/verdict"
	"FinVerdict/internal/usecase"
	"FinVerdict/pkg/cache"
	pkgch "FinVerdict/pkg/clickhouse"
	"FinVerdict/pkg/config"
	xhttp "FinVerdict/pkg/http"
	pkgkafka "FinVerdict/pkg/kafka"
	"FinVerdict/pkg/logger"
	"FinVerdict/pkg/metrics"
	"FinVerdict/pkg/queue"
	"FinVerdict/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() repository.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisClient connects to Redis when enabled; otherwise it returns nil.
func ProvideRedisClient(cfg *config.Config) (redis.UniversalClient, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCalibrationCache picks the modifier cache. "none" returns nil.
func ProvideCalibrationCache(cfg *config.Config, rdb redis.UniversalClient) (cache.Service, func(), error) {
	var svc cache.Service
	switch cfg.Ports.Calibration.Cache {
	case "none":
		return nil, func() {}, nil
	case "memory":
		svc = cache.NewMemoryCache(cache.WithMemoryMaxSize(10_000))
	case "redis":
		svc = cache.NewRedisCache(rdb, cache.WithRedisPrefix(cfg.Redis.Prefix))
	case "layered":
		svc = cache.NewLayeredCache(
			cache.NewRedisCache(rdb, cache.WithRedisPrefix(cfg.Redis.Prefix)),
			cache.WithLayeredL1TTL(30*time.Second),
		)
	default:
		return nil, nil, fmt.Errorf("unknown calibration cache %q", cfg.Ports.Calibration.Cache)
	}
	return svc, func() { _ = svc.Close() }, nil
}

// ProvideClickHouseClient connects to ClickHouse when it backs calibration.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Ports.Calibration.Backend != "clickhouse" {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.CalibrationSchema(ch.Table)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCalibrationPort builds the calibration chain: store, then optional cache.
func ProvideCalibrationPort(cfg *config.Config, ch *pkgch.Client, c cache.Service, lgr *logger.Logger) domsvc.CalibrationPort {
	cal := cfg.Ports.Calibration
	var port domsvc.CalibrationPort = analytics.NeutralCalibration{}
	if ch != nil {
		port = internalrepo.NewCHCalibrationStore(ch.DB(), internalrepo.CalibrationSettings{
			Table:        cfg.ClickHouse.Table,
			LookbackDays: cal.LookbackDays,
			MinSamples:   cal.MinSamples,
			MinModifier:  cal.MinModifier,
			MaxModifier:  cal.MaxModifier,
		})
	}
	if c != nil && ch != nil {
		port = analytics.NewCachedCalibration(port, c, cal.CacheTTL, lgr)
	}
	return port
}

// ProvideMetaBrainPort returns nil when disabled, which skips the stage.
func ProvideMetaBrainPort(cfg *config.Config) domsvc.MetaBrainPort {
	p := cfg.Ports.MetaBrain
	if !p.Enabled {
		return nil
	}
	return analytics.NewHTTPMetaBrain(analytics.NewHTTPServiceBase(p.URL, p.Timeout, p.MaxRetries+1))
}

// ProvideHealthPort returns the shadow monitor, or the neutral port when disabled.
func ProvideHealthPort(cfg *config.Config) domsvc.HealthPort {
	p := cfg.Ports.Health
	if !p.Enabled {
		return analytics.NeutralHealth{}
	}
	return analytics.NewHTTPShadowMonitor(analytics.NewHTTPServiceBase(p.URL, p.Timeout, p.MaxRetries+1))
}

// ProvideRulebook compiles configured rules, or the built-in set when none are configured.
func ProvideRulebook(cfg *config.Config) (*verdict.Rulebook, error) {
	if len(cfg.Rules) == 0 {
		return verdict.DefaultRulebook(), nil
	}
	rb, err := verdict.NewRulebook(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("rulebook: %w", err)
	}
	return rb, nil
}

// ProvideEngine assembles the verdict engine.
func ProvideEngine(
	cfg *config.Config,
	rb *verdict.Rulebook,
	mb domsvc.MetaBrainPort,
	cal domsvc.CalibrationPort,
	health domsvc.HealthPort,
	lgr *logger.Logger,
	m repository.Metrics,
) *verdict.Engine {
	return verdict.NewEngine(
		verdict.WithConfig(cfg.Engine),
		verdict.WithRulebook(rb),
		verdict.WithMetaBrain(mb),
		verdict.WithCalibration(cal),
		verdict.WithHealth(health),
		verdict.WithLogger(lgr.With(logger.String("component", "engine"))),
		verdict.WithMetrics(m),
	)
}

// ProvideVerdictPublisher publishes to Kafka when enabled.
func ProvideVerdictPublisher(cfg *config.Config) (repository.VerdictPublisher, func(), error) {
	k := cfg.Kafka
	if !k.Enabled {
		return internalrepo.NopPublisher{}, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.MaxAttempts),
		pkgkafka.WithBatching(k.BatchSize, k.BatchTimeout),
		pkgkafka.WithWriteTimeout(k.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaVerdictPublisher(producer, k.Topic)
	return pub, func() { _ = pub.Close() }, nil
}

// ProvideHub creates the WebSocket fan-out.
func ProvideHub(cfg *config.Config, lgr *logger.Logger) *stream.Hub {
	return stream.NewHub(lgr, cfg.Server.AllowedOrigins)
}

// ProvideVerdictService wires the engine to the publisher and the hub.
func ProvideVerdictService(
	cfg *config.Config,
	engine *verdict.Engine,
	pub repository.VerdictPublisher,
	hub *stream.Hub,
	lgr *logger.Logger,
	m repository.Metrics,
) *usecase.VerdictService {
	backend := "none"
	if cfg.Kafka.Enabled {
		backend = "kafka"
	}
	return usecase.NewVerdictService(engine, engine.Rulebook(),
		usecase.WithPublisher(pub, backend),
		usecase.WithBroadcaster(hub),
		usecase.WithPublishTimeout(cfg.Kafka.WriteTimeout),
		usecase.WithServiceLogger(lgr.With(logger.String("component", "verdict_service"))),
		usecase.WithServiceMetrics(m),
	)
}

// ProvideQueue builds the Redis job queue with the evaluate job registered.
// It returns nil when the queue is disabled.
func ProvideQueue(cfg *config.Config, rdb redis.UniversalClient, svc *usecase.VerdictService, lgr *logger.Logger) *queue.RedisQueue {
	q := cfg.Queue
	if !q.Enabled || rdb == nil {
		return nil
	}
	rq := queue.NewRedisQueue(lgr, queue.QueueConfig{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
	}, rdb, queue.ModeProducerConsumer, queue.WithKeyPrefix(q.KeyPrefix))
	rq.RegisterJob(usecase.NewEvaluateJob(svc, lgr))
	return rq
}

// ProvideRateLimiter returns nil when rate limiting is disabled.
func ProvideRateLimiter(cfg *config.Config) api.RateLimiter {
	rl := cfg.Server.RateLimit
	if !rl.Enabled {
		return nil
	}
	return ratelimit.New(rl.Capacity, rl.RefillPerSec)
}

// ProvideVerdictHandler creates the REST handler.
func ProvideVerdictHandler(lgr *logger.Logger, svc *usecase.VerdictService, limiter api.RateLimiter, rq *queue.RedisQueue) *api.VerdictHandler {
	var qs queue.QueueService
	if rq != nil {
		qs = rq
	}
	return api.NewVerdictHandler(lgr, svc, limiter, qs)
}

// ProvideHTTPServer creates the Echo server with every handler registered.
func ProvideHTTPServer(cfg *config.Config, lgr *logger.Logger, h *api.VerdictHandler, hub *stream.Hub) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	s := cfg.Server
	return xhttp.NewServer([]xhttp.Handler{h, hub},
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithCORS(s.AllowedOrigins...),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(lgr),
	)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(cfg *config.Config, lgr *logger.Logger, srv *xhttp.Server, rq *queue.RedisQueue, hub *stream.Hub, limiter api.RateLimiter) *server.App {
	var components []server.Lifecycle
	if rq != nil {
		components = append(components, rq)
	}
	if rl, ok := limiter.(*ratelimit.Limiter); ok {
		components = append(components, newSweeper(rl, time.Minute, 10*time.Minute))
	}
	app := server.New(lgr, srv, cfg.Server.ShutdownTimeout, components...)
	app.OnClose(func() error {
		hub.Close()
		return nil
	})
	return app
}
