package storage

import (
	"context"
	"errors"

	"github.com/taoyao-code/vndstream/internal/storage/models"
)

// ErrNotFound 运行记录不存在
var ErrNotFound = errors.New("run not found")

// RunRepo 运行记录存储抽象。
// 约束：上层不直接写 SQL；SaveRun 在单个事务内写入运行与规则结论。
type RunRepo interface {
	// WithTx 在单个事务中执行 fn，嵌套调用复用当前事务
	WithTx(ctx context.Context, fn func(repo RunRepo) error) error
	// SaveRun 写入一次运行及其规则结论，回填主键
	SaveRun(ctx context.Context, run *models.ComplianceRun) error
	// GetRun 按 run_id 查询（含规则），不存在返回 ErrNotFound
	GetRun(ctx context.Context, runID string) (*models.ComplianceRun, error)
	// ListRuns 按设备倒序列出最近的运行，device 为空表示全部
	ListRuns(ctx context.Context, device string, limit int) ([]models.ComplianceRun, error)
}
