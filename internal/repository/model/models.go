package model

import "time"

type Availability struct {
	UserID     string    `gorm:"size:128;primaryKey"`
	CallStatus string    `gorm:"size:32;not null"`
	CallID     *string   `gorm:"size:64"`
	CallerID   *string   `gorm:"size:128"`
	CallerName *string   `gorm:"size:255"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type CallRecord struct {
	CallID          string    `gorm:"size:64;primaryKey"`
	CallerID        string    `gorm:"size:128;index;not null"`
	CalleeID        string    `gorm:"size:128;index;not null"`
	Status          string    `gorm:"size:32;not null"`
	DurationSeconds int       `gorm:"not null"`
	EndedBy         string    `gorm:"size:128;not null"`
	EndedAt         time.Time `gorm:"index;not null"`
	CreatedAt       time.Time
}
