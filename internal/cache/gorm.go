package cache

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signdesk/internal/models"
)

// Gorm: бэкенд на таблице cache_entries; переживает рестарт и общий для инстансов.
type Gorm struct{ db *gorm.DB }

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

func (g *Gorm) Load(ctx context.Context, key string) (Entry, bool, error) {
	var row models.CacheEntry
	err := g.db.WithContext(ctx).Where("cache_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Value: []byte(row.Value), Expires: row.Expires}, true, nil
}

func (g *Gorm) Store(ctx context.Context, key string, e Entry) error {
	row := models.CacheEntry{Key: key, Value: e.Value, Expires: e.Expires}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires"}),
	}).Create(&row).Error
}

func (g *Gorm) Delete(ctx context.Context, key string) error {
	return g.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&models.CacheEntry{}).Error
}

func (g *Gorm) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res := g.db.WithContext(ctx).
		Where("cache_key LIKE ?", escapeLike(prefix)+"%").
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

func (g *Gorm) DeleteAll(ctx context.Context) error {
	return g.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CacheEntry{}).Error
}

func (g *Gorm) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	res := g.db.WithContext(ctx).Where("expires <= ?", nowMs).Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

// escapeLike экранирует метасимволы LIKE (экранирующий символ по умолчанию - "\").
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
