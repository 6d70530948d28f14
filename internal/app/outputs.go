package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/vndstream/internal/config"
	"github.com/taoyao-code/vndstream/internal/health"
	"github.com/taoyao-code/vndstream/internal/httpserver"
	"github.com/taoyao-code/vndstream/internal/metrics"
	"github.com/taoyao-code/vndstream/internal/publish"
	"github.com/taoyao-code/vndstream/internal/storage"
	"github.com/taoyao-code/vndstream/internal/storage/gormrepo"
	pgstorage "github.com/taoyao-code/vndstream/internal/storage/pg"
	redisstorage "github.com/taoyao-code/vndstream/internal/storage/redis"
)

// NewMetrics 初始化注册表与流指标
func NewMetrics() (*prometheus.Registry, *metrics.StreamMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewStreamMetrics(reg)
}

// NewHTTPServer 根据配置创建监控 HTTP 服务器；store 非空时挂载 /runs
func NewHTTPServer(cfg *cfgpkg.Config, reg *prometheus.Registry, agg *health.Aggregator, store *RunStore, ready func() bool, stats func() any) *httpserver.Server {
	routes := httpserver.Routes{Ready: ready, Stats: stats, Health: agg}
	if store != nil {
		routes.Runs = store
	}
	if cfg.Metrics.Enable && reg != nil {
		routes.MetricsPath = cfg.Metrics.Path
		routes.MetricsHandler = metrics.Handler(reg)
	}
	return httpserver.New(cfg.HTTP, routes)
}

// NewPublisher 按配置组合 Redis/NATS 发布器，都未启用时返回 Nop。
// 同时返回可挂到健康检查上的检查器。
func NewPublisher(cfg *cfgpkg.Config, logger *zap.Logger) (publish.Publisher, []health.Checker, error) {
	var (
		pubs     []publish.Publisher
		checkers []health.Checker
	)
	if cfg.Redis.Enabled {
		client, err := redisstorage.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		pubs = append(pubs, publish.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL))
		checkers = append(checkers, health.NewRedisChecker(client))
		logger.Info("redis publisher enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.NATS.Enabled {
		nc, err := publish.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			_ = publish.Combine(pubs...).Close()
			return nil, nil, err
		}
		pubs = append(pubs, nc)
		logger.Info("nats publisher enabled", zap.String("url", cfg.NATS.URL))
	}
	return publish.Combine(pubs...), checkers, nil
}

// RunStore 报告存档：仓储加底层连接池
type RunStore struct {
	storage.RunRepo
	pool *pgxpool.Pool
}

// Checker 数据库健康检查
func (s *RunStore) Checker() health.Checker { return health.NewDatabaseChecker(s.pool) }

func (s *RunStore) Close() { s.pool.Close() }

// OpenRunStore 连接数据库并按需建表；未启用时返回 nil
func OpenRunStore(ctx context.Context, cfg cfgpkg.DatabaseConfig, logger *zap.Logger) (*RunStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	pool, err := pgstorage.NewPool(ctx, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, logger.Named("sql"))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	db, err := pgstorage.OpenGorm(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("db open gorm: %w", err)
	}
	if cfg.AutoMigrate {
		if err := gormrepo.Migrate(ctx, db); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		logger.Info("db migrations applied")
	}
	return &RunStore{RunRepo: gormrepo.New(db), pool: pool}, nil
}
