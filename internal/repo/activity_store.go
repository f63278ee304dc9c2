package repo

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"signdesk/internal/models"
)

type ActivityStore struct{ db *gorm.DB }

func NewActivityStore(db *gorm.DB) *ActivityStore { return &ActivityStore{db: db} }

func (s *ActivityStore) Record(ctx context.Context, userID, action string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&models.ActivityLog{
		UserID: userID,
		Action: action,
		Detail: datatypes.JSON(raw),
	}).Error
}

func (s *ActivityStore) Recent(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.ActivityLog
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
