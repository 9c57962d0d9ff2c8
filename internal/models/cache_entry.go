package models

import (
	"time"
)

// CacheEntry is a short-lived keyed value: rate limit counters and federation
// notification markers. A zero ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name stable if the type is renamed.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// ExpiredAt reports whether the entry is dead at now. Expiry is exclusive.
func (e CacheEntry) ExpiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}
