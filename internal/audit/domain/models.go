package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeOperator ActorType = "operator"
)

// AuditLog is an append-only trail row for financial mutations.
type AuditLog struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	TenantID   *snowflake.ID  `gorm:"index"`
	ActorType  string         `gorm:"type:text;not null"`
	ActorID    *string        `gorm:"type:text"`
	Action     string         `gorm:"type:text;not null;index"`
	TargetType string         `gorm:"type:text;not null"`
	TargetID   *string        `gorm:"type:text;index"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
}
