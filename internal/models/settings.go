package models

import (
	"time"

	"gorm.io/datatypes"
)

// Ключи таблицы settings.
const (
	SettingDataKey         = "data_key"          // DEK, обёрнутый мастер-ключом
	SettingCMSBaseURL      = "cms_base_url"      // открыто
	SettingCMSClientID     = "cms_client_id"     // шифротекст
	SettingCMSClientSecret = "cms_client_secret" // шифротекст
)

type Setting struct {
	Key       string `gorm:"column:setting_key;primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// LoginAttempt: счётчик неудачных входов по email в скользящем окне.
type LoginAttempt struct {
	Email       string `gorm:"primaryKey;size:255"`
	Failures    int    `gorm:"not null"`
	WindowStart int64  `gorm:"not null"` // unix ms
}

// ActivityLog: журнал действий в панели.
type ActivityLog struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    string         `gorm:"index;size:36"`
	Action    string         `gorm:"size:64;not null;index"`
	Detail    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index"`
}
