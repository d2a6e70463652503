package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EntityTeam = "team"

	OpUpsert = "UPSERT"
	OpDelete = "DELETE"
)

// OutboxEvent is written in the same transaction as the ledger mutation it describes.
type OutboxEvent struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	EntityType string `gorm:"index;not null"`
	EntityID   int64  `gorm:"index;not null"`
	Op         string `gorm:"not null"` // UPSERT | DELETE
	Payload    datatypes.JSON
	CreatedAt  time.Time
	Processed  bool `gorm:"index;default:false"`
}

type DLQ struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	OutboxID   int64 `gorm:"index"`
	Sink       string
	EntityType string
	EntityID   int64
	Op         string
	ErrorMsg   string
	Payload    datatypes.JSON
	CreatedAt  time.Time
	RetriedAt  *time.Time
	Resolved   bool `gorm:"index;default:false"`
}
