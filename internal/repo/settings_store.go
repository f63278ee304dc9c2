package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signdesk/internal/models"
)

type SettingsStore struct{ db *gorm.DB }

func NewSettingsStore(db *gorm.DB) *SettingsStore { return &SettingsStore{db: db} }

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

// GetMany возвращает найденные ключи; отсутствующих в map нет.
func (s *SettingsStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Where("setting_key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	row := models.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// LoginAttemptStore: блокировка входа после серии неудач по одному email.
type LoginAttemptStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLoginAttemptStore(db *gorm.DB) *LoginAttemptStore {
	return &LoginAttemptStore{db: db, now: time.Now}
}

func (s *LoginAttemptStore) Locked(ctx context.Context, email string, max int, window time.Duration) (bool, error) {
	row, err := s.get(ctx, email)
	if err != nil || row == nil {
		return false, err
	}
	if s.now().UnixMilli()-row.WindowStart >= window.Milliseconds() {
		return false, nil
	}
	return row.Failures >= max, nil
}

// Fail учитывает неудачную попытку; окно начинается с первой неудачи.
func (s *LoginAttemptStore) Fail(ctx context.Context, email string, window time.Duration) error {
	now := s.now().UnixMilli()
	row, err := s.get(ctx, email)
	if err != nil {
		return err
	}
	if row == nil || now-row.WindowStart >= window.Milliseconds() {
		row = &models.LoginAttempt{Email: NormalizeEmail(email), WindowStart: now}
	}
	row.Failures++
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"failures", "window_start"}),
	}).Create(row).Error
}

func (s *LoginAttemptStore) Clear(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).Delete(&models.LoginAttempt{}).Error
}

func (s *LoginAttemptStore) get(ctx context.Context, email string) (*models.LoginAttempt, error) {
	var row models.LoginAttempt
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
