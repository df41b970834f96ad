package types

import (
	"time"
)

// StoredEntry is one row of the durable TTL table. Rows with a nil ExpiresAt never
// expire; all other rows are logically absent once ExpiresAt has passed, whether or
// not they have been swept yet.
type StoredEntry struct {
	Namespace string     `gorm:"primaryKey;size:64"`
	Key       string     `gorm:"column:entry_key;primaryKey;size:255"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// TableName pins the table name independent of gorm's naming strategy
func (StoredEntry) TableName() string {
	return "ttl_entries"
}
