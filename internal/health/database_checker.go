package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker 报告存档库健康检查
type DatabaseChecker struct {
	db pinger
}

// NewDatabaseChecker db 通常为 *pgxpool.Pool
func NewDatabaseChecker(db pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.db.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	res := CheckResult{Status: StatusHealthy, Message: "ok"}
	if pool, ok := c.db.(*pgxpool.Pool); ok {
		stats := pool.Stat()
		utilization := 0.0
		if stats.MaxConns() > 0 {
			utilization = float64(stats.AcquiredConns()) / float64(stats.MaxConns())
		}
		// 归档只在运行结束时写入，连接池占满说明写入卡住
		if utilization >= 1.0 {
			res.Status = StatusDegraded
			res.Message = "connection pool exhausted"
		}
		res.Details = map[string]any{
			"total_conns":    stats.TotalConns(),
			"acquired_conns": stats.AcquiredConns(),
			"max_conns":      stats.MaxConns(),
			"utilization":    fmt.Sprintf("%.1f%%", utilization*100),
		}
	}
	res.Latency = time.Since(start)
	return res
}
