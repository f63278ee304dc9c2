package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"signdesk/internal/models"
)

type BusinessStore struct{ db *gorm.DB }

func NewBusinessStore(db *gorm.DB) *BusinessStore { return &BusinessStore{db: db} }

func (s *BusinessStore) List(ctx context.Context) ([]models.Business, error) {
	var out []models.Business
	err := s.db.WithContext(ctx).Preload("Screens").Order("id").Find(&out).Error
	return out, err
}

// ListForUser: заведения, к которым привязан пользователь.
func (s *BusinessStore) ListForUser(ctx context.Context, userID string) ([]models.Business, error) {
	var out []models.Business
	err := s.db.WithContext(ctx).
		Preload("Screens.MenuScreens").
		Joins("JOIN business_users ON business_users.business_id = businesses.id").
		Where("business_users.user_id = ?", userID).
		Order("businesses.id").
		Find(&out).Error
	return out, err
}

func (s *BusinessStore) Get(ctx context.Context, id uint) (*models.Business, error) {
	var b models.Business
	err := s.db.WithContext(ctx).
		Preload("Screens.MenuScreens").
		Preload("Users").
		Where("id = ?", id).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BusinessStore) Create(ctx context.Context, b *models.Business) error {
	return s.db.WithContext(ctx).Omit("Users", "Screens").Create(b).Error
}

func (s *BusinessStore) Rename(ctx context.Context, id uint, nameEnc string) error {
	res := s.db.WithContext(ctx).Model(&models.Business{}).Where("id = ?", id).Update("name_enc", nameEnc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет заведение вместе с экранами и привязками меню.
func (s *BusinessStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		screens := tx.Model(&models.Screen{}).Select("id").Where("business_id = ?", id)
		if err := tx.Where("screen_id IN (?)", screens).Delete(&models.MenuScreen{}).Error; err != nil {
			return err
		}
		if err := tx.Where("business_id = ?", id).Delete(&models.Screen{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM business_users WHERE business_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Business{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *BusinessStore) AddUser(ctx context.Context, businessID uint, userID string) error {
	ok, err := s.HasUser(ctx, businessID, userID)
	if err != nil {
		return err
	}
	if ok {
		return ErrDuplicate
	}
	return s.db.WithContext(ctx).Exec(
		"INSERT INTO business_users (business_id, user_id) VALUES (?, ?)", businessID, userID).Error
}

func (s *BusinessStore) RemoveUser(ctx context.Context, businessID uint, userID string) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM business_users WHERE business_id = ? AND user_id = ?", businessID, userID).Error
}

func (s *BusinessStore) HasUser(ctx context.Context, businessID uint, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Table("business_users").
		Where("business_id = ? AND user_id = ?", businessID, userID).
		Count(&n).Error
	return n > 0, err
}

func (s *BusinessStore) CreateScreen(ctx context.Context, sc *models.Screen) error {
	return s.db.WithContext(ctx).Omit("MenuScreens").Create(sc).Error
}

func (s *BusinessStore) GetScreen(ctx context.Context, id uint) (*models.Screen, error) {
	var sc models.Screen
	err := s.db.WithContext(ctx).Preload("MenuScreens").Where("id = ?", id).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *BusinessStore) DeleteScreen(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("screen_id = ?", id).Delete(&models.MenuScreen{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Screen{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *BusinessStore) AttachMenuBoard(ctx context.Context, ms *models.MenuScreen) error {
	return s.db.WithContext(ctx).Create(ms).Error
}

func (s *BusinessStore) DetachMenuBoard(ctx context.Context, screenID uint, menuBoardID int) error {
	return s.db.WithContext(ctx).
		Where("screen_id = ? AND menu_board_id = ?", screenID, menuBoardID).
		Delete(&models.MenuScreen{}).Error
}

// MenuBoardIDsForUser: меню-борды, доступные пользователю через экраны его заведений.
func (s *BusinessStore) MenuBoardIDsForUser(ctx context.Context, userID string) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).
		Table("menu_screens").
		Joins("JOIN screens ON screens.id = menu_screens.screen_id").
		Joins("JOIN business_users ON business_users.business_id = screens.business_id").
		Where("business_users.user_id = ?", userID).
		Distinct().
		Pluck("menu_screens.menu_board_id", &ids).Error
	return ids, err
}
