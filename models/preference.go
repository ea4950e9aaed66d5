package models

import "time"

// Preference is one persisted key/value pair (lastCity, lastZone, vehicles).
type Preference struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
