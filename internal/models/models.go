package models

import (
	"time"
)

// AccessLog records one request against the archive API. The endpoints are
// anonymous read-only JSON/PNG, so only routing and transfer facts are kept.
type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null;index"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	BytesSent int    `gorm:"not null;default:0"`
}

type GraphSample struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Date      string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_sample_date_ts"`
	Timestamp time.Time `gorm:"not null;uniqueIndex:idx_sample_date_ts"`
	Value     float64   `gorm:"not null"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func (GraphSample) TableName() string {
	return "graph_samples"
}
