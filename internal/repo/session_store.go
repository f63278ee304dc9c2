package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"signdesk/internal/models"
)

type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionStore(db *gorm.DB) *SessionStore { return &SessionStore{db: db, now: time.Now} }

func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

// GetByTokenHash возвращает живую сессию; просроченная удаляется и считается отсутствующей.
func (s *SessionStore) GetByTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sess.ID).Error; err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *SessionStore) DeleteByTokenHash(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&models.Session{}).Error
}

// DeleteByID удаляет сессию только если она принадлежит userID.
func (s *SessionStore) DeleteByID(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// ListForUser: активные сессии пользователя, новые сверху.
func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]models.Session, error) {
	var out []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires > ?", userID, s.now().UnixMilli()).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires <= ?", s.now().UnixMilli()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
