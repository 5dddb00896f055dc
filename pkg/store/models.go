package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (UserModel) TableName() string { return "users" }

type HistoryModel struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	Username        string         `gorm:"size:64;not null;index:idx_history_username_processed,priority:1"`
	Filename        string         `gorm:"not null"`
	ProcessedAt     time.Time      `gorm:"not null;index:idx_history_username_processed,priority:2"`
	EcoPointsEarned int64          `gorm:"not null"`
	ItemsRecycled   int64          `gorm:"not null"`
	CarbonSavedKg   float64        `gorm:"not null"`
	StoredPath      string
	Detections      datatypes.JSON
}

func (HistoryModel) TableName() string { return "history" }

type CenterModel struct {
	ID       int64  `gorm:"primaryKey"`
	Name     string `gorm:"not null"`
	Type     string
	Address  string
	Lat      float64
	Lng      float64
	Hours    string
	Rating   float64
	Services datatypes.JSON
	Distance string
	Phone    string
	Website  string
}

func (CenterModel) TableName() string { return "recycling_centers" }
