package models

import "gorm.io/datatypes"

// CacheEntry: строка кэша ответов CMS (backend "db").
// Колонка названа cache_key: "key" зарезервировано в MySQL.
type CacheEntry struct {
	Key     string         `gorm:"column:cache_key;primaryKey;size:512"`
	Value   datatypes.JSON `gorm:"not null"`
	Expires int64          `gorm:"index;not null"` // unix ms
}
