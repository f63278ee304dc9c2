package models

import "time"

// Session: серверная сессия. В cookie лежит сам токен, в БД только его sha256.
type Session struct {
	ID             string  `gorm:"primaryKey;size:36"`
	TokenHash      string  `gorm:"uniqueIndex;size:64;not null"`
	CSRFToken      string  `gorm:"size:64;not null"`
	Expires        int64   `gorm:"index;not null"` // unix ms
	WrappedDataKey *string `gorm:"type:text"`      // ключ данных, обёрнутый ключом из токена
	UserID         string  `gorm:"index;size:36;not null"`
	UserAgent      string  `gorm:"size:255"`
	// ImpersonatorID: id сессии администратора, запустившего имперсонацию; nil у обычных сессий.
	ImpersonatorID *string `gorm:"size:36;index"`
	CreatedAt      time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return now.UnixMilli() >= s.Expires
}
