// models/gorm_models.go
package models

import (
	"time"
)

// GormSessionRecord 会话审计表
type GormSessionRecord struct {
	ID                string    `gorm:"primaryKey;size:36"`
	ConnID            string    `gorm:"index;not null"`
	Role              string    `gorm:"size:16;not null"`
	ConnectedAt       time.Time `gorm:"not null"`
	DisconnectedAt    time.Time `gorm:"index;not null"`
	MessagesReceived  int64     `gorm:"default:0"`
	MalformedMessages int64     `gorm:"default:0"`
	ActionsApplied    int64     `gorm:"default:0"`
	CreatedAt         time.Time
}

func (GormSessionRecord) TableName() string {
	return "session_records"
}

func NewGormSessionRecord(r *SessionRecord) *GormSessionRecord {
	return &GormSessionRecord{
		ID:                r.ID,
		ConnID:            r.ConnID,
		Role:              r.Role,
		ConnectedAt:       r.ConnectedAt,
		DisconnectedAt:    r.DisconnectedAt,
		MessagesReceived:  r.MessagesReceived,
		MalformedMessages: r.MalformedMessages,
		ActionsApplied:    r.ActionsApplied,
	}
}

func (g *GormSessionRecord) Record() SessionRecord {
	return SessionRecord{
		ID:                g.ID,
		ConnID:            g.ConnID,
		Role:              g.Role,
		ConnectedAt:       g.ConnectedAt,
		DisconnectedAt:    g.DisconnectedAt,
		MessagesReceived:  g.MessagesReceived,
		MalformedMessages: g.MalformedMessages,
		ActionsApplied:    g.ActionsApplied,
	}
}
