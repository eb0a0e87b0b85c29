package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/internal/cache"
	"github.com/BaSui01/gatekeeper/internal/database"
	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/internal/server"
	"github.com/BaSui01/gatekeeper/internal/telemetry"
	"github.com/BaSui01/gatekeeper/rag"
)

// 死锁/序列化失败时的事务重试次数
const txMaxRetries = 3

// app 一次命令执行所需的全部运行时组件
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	otel    *telemetry.Providers
	pool    *database.PoolManager
	redis   *cache.Manager
	svc     *rag.Service
}

// appOptions 测试时替换外部依赖
type appOptions struct {
	registerer prometheus.Registerer
	store      rag.VectorStore
}

// newApp 按配置组装: 遥测 → 指标 → 数据库/Redis → 检索服务.
// 配置了 Mongo 时不打开关系型数据库.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if providers, terr := telemetry.Init(ctx, cfg.Telemetry, logger); terr != nil {
		// 遥测失败不影响主流程
		logger.Warn("failed to initialize telemetry", zap.Error(terr))
	} else {
		a.otel = providers
	}

	reg := opts.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.metrics = metrics.NewCollectorWithRegisterer(cfg.Metrics.Namespace, reg, logger)

	svcOpts := []rag.ServiceOption{
		rag.WithLogger(logger),
		rag.WithMetricsCollector(a.metrics),
	}
	if opts.store != nil {
		svcOpts = append(svcOpts, rag.WithStore(opts.store))
	} else if cfg.Mongo.URI == "" && cfg.Database.Driver != "" {
		a.pool, err = database.Open(cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.pool.WithMetrics(a.metrics)
		svcOpts = append(svcOpts, rag.WithDB(a.pool.DB()), rag.WithTxRunner(a.retryingTx))
	}

	if cfg.Redis.Enabled && cfg.Retrieval.CacheTTL > 0 {
		if m, rerr := cache.NewManager(cache.ConfigFromRedis(cfg.Redis), logger); rerr != nil {
			// 回退到进程内结果缓存
			logger.Warn("redis unavailable, using in-process result cache", zap.Error(rerr))
		} else {
			a.redis = m
			svcOpts = append(svcOpts, rag.WithResultCache(rag.NewRedisResultCache(m)))
		}
	}

	a.svc, err = rag.NewServiceFromConfig(ctx, cfg, svcOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// retryingTx 让 SQL 存储的事务走连接池的重试逻辑
func (a *app) retryingTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return a.pool.WithTransactionRetry(ctx, txMaxRetries, fn)
}

// readinessChecks serve 的 /readyz 检查项
func (a *app) readinessChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{
		"embedding": func(context.Context) error {
			if !a.svc.Embeddings.IsAvailable() {
				return errors.New("no embedding provider available")
			}
			return nil
		},
	}
	if p, ok := a.svc.Store.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = p.Ping
	}
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	return checks
}

// Close 按创建的逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// withApp 加载配置并在 fn 返回后关闭所有组件
func withApp(ctx context.Context, configPath string, fn func(*app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(a)
}
