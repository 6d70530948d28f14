package models

import (
	"time"
)

// 不使用 gorm.Model，显式声明每个字段

// ComplianceRun 映射 compliance_runs 表，一次检查或 burn-in 运行一行
type ComplianceRun struct {
	ID                 int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID              string    `gorm:"column:run_id;type:uuid;not null;uniqueIndex"`
	Device             string    `gorm:"column:device;type:text;index"`
	Mode               string    `gorm:"column:mode;type:varchar(16);not null"`
	Result             string    `gorm:"column:result;type:varchar(8);not null"`
	FinalState         string    `gorm:"column:final_state;type:varchar(32)"`
	StartedAt          time.Time `gorm:"column:started_at;not null"`
	FinishedAt         time.Time `gorm:"column:finished_at;not null"`
	DurationMs         int64     `gorm:"column:duration_ms"`
	LockedSamples      int32     `gorm:"column:locked_samples"`
	PairsCompleted     int64     `gorm:"column:pairs_completed"`
	OrderingViolations int64     `gorm:"column:ordering_violations"`
	SequenceGaps       int64     `gorm:"column:sequence_gaps"`
	ChecksumErrors     int64     `gorm:"column:checksum_errors"`
	Desyncs            int64     `gorm:"column:desyncs"`
	DiscardedBytes     int64     `gorm:"column:discarded_bytes"`
	BytesIn            int64     `gorm:"column:bytes_in"`
	// Report 完整报告 JSON
	Report    []byte    `gorm:"column:report;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`

	Rules []RuleOutcome `gorm:"foreignKey:RunPK;references:ID"`
}

func (ComplianceRun) TableName() string { return "compliance_runs" }

// RuleOutcome 映射 compliance_rules 表
type RuleOutcome struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunPK   int64  `gorm:"column:run_pk;not null;index"`
	Ordinal int32  `gorm:"column:ordinal;not null"`
	RuleID  string `gorm:"column:rule_id;type:varchar(64);not null"`
	Verdict string `gorm:"column:verdict;type:varchar(8);not null"`
	Reason  string `gorm:"column:reason;type:text"`
}

func (RuleOutcome) TableName() string { return "compliance_rules" }

// All 需要迁移的模型
func All() []interface{} {
	return []interface{}{&ComplianceRun{}, &RuleOutcome{}}
}
