package gormrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/taoyao-code/vndstream/internal/compliance"
	"github.com/taoyao-code/vndstream/internal/storage"
	"github.com/taoyao-code/vndstream/internal/storage/models"
)

// Repository 基于 GORM 的 RunRepo 实现。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回一个使用给定 *gorm.DB 的 RunRepo 实例。
func New(db *gorm.DB) storage.RunRepo {
	return &Repository{db: db}
}

// Migrate 按模型建表
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(models.All()...)
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(storage.RunRepo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// SaveRun 写入运行记录，规则随关联一起插入。
func (r *Repository) SaveRun(ctx context.Context, run *models.ComplianceRun) error {
	return r.WithTx(ctx, func(repo storage.RunRepo) error {
		tx := repo.(*Repository).db
		return tx.WithContext(ctx).Create(run).Error
	})
}

// GetRun 通过 run_id 查询运行记录。
func (r *Repository) GetRun(ctx context.Context, runID string) (*models.ComplianceRun, error) {
	var run models.ComplianceRun
	err := r.db.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal") }).
		Where("run_id = ?", runID).
		First(&run).Error
	if err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ListRuns 倒序返回最近的运行记录，不加载规则。
func (r *Repository) ListRuns(ctx context.Context, device string, limit int) ([]models.ComplianceRun, error) {
	var runs []models.ComplianceRun
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if device != "" {
		q = q.Where("device = ?", device)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// translate 把 gorm 的未找到错误换成存储层错误，上层不依赖 gorm
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// FromReport 把报告转换为待写入的记录
func FromReport(rep *compliance.Report, mode string) (*models.ComplianceRun, error) {
	raw, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	d := rep.Stats.Decoder
	p := rep.Stats.Pairs
	run := &models.ComplianceRun{
		RunID:              rep.RunID,
		Device:             rep.Device,
		Mode:               mode,
		Result:             string(rep.Result),
		FinalState:         string(rep.FinalState),
		StartedAt:          rep.StartedAt,
		FinishedAt:         rep.FinishedAt,
		DurationMs:         rep.Duration.Milliseconds(),
		LockedSamples:      int32(rep.LockedSamples),
		PairsCompleted:     int64(p.PairsCompleted),
		OrderingViolations: int64(p.OrderingViolations),
		SequenceGaps:       int64(p.SequenceGaps),
		ChecksumErrors:     int64(d.ChecksumMismatches),
		Desyncs:            int64(d.Desyncs),
		DiscardedBytes:     int64(d.DiscardedBytes),
		BytesIn:            int64(d.BytesIn),
		Report:             raw,
	}
	for i, rr := range rep.Rules {
		run.Rules = append(run.Rules, models.RuleOutcome{
			Ordinal: int32(i),
			RuleID:  rr.ID,
			Verdict: string(rr.Verdict),
			Reason:  rr.Reason,
		})
	}
	return run, nil
}
