package models

import (
	"time"
)

// Роли хранятся строкой: owner|manager|user. Разбор и сравнение - в пакете auth.
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleUser    = "user"
)

// User: учётная запись панели. Email хранится открыто (по нему логин),
// отображаемое имя - шифротекстом (secrets.Box).
type User struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Email              string `gorm:"uniqueIndex;size:255;not null"`
	NameEnc            string `gorm:"type:text"`
	PasswordHash       []byte `gorm:"not null"`
	PasswordSalt       []byte `gorm:"not null"`
	Role               string `gorm:"size:16;not null;index"`
	MustChangePassword bool   `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Businesses []Business `gorm:"many2many:business_users;"`
}

// Business: клиент (заведение), которому принадлежат экраны и меню в CMS.
type Business struct {
	ID          uint   `gorm:"primaryKey"`
	NameEnc     string `gorm:"type:text;not null"`
	CMSFolderID *int   // папка в CMS, куда складываются его объекты
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Users   []User   `gorm:"many2many:business_users;"`
	Screens []Screen `gorm:"constraint:OnDelete:CASCADE;"`
}

// Screen: физический экран заведения; может быть связан с дисплеем CMS.
type Screen struct {
	ID           uint   `gorm:"primaryKey"`
	BusinessID   uint   `gorm:"index;not null"`
	NameEnc      string `gorm:"type:text;not null"`
	CMSDisplayID *int
	CreatedAt    time.Time
	UpdatedAt    time.Time

	MenuScreens []MenuScreen `gorm:"constraint:OnDelete:CASCADE;"`
}

// MenuScreen: привязка меню-борда CMS к экрану.
type MenuScreen struct {
	ID          uint `gorm:"primaryKey"`
	ScreenID    uint `gorm:"index;not null;uniqueIndex:uniq_screen_board,priority:1"`
	MenuBoardID int  `gorm:"not null;uniqueIndex:uniq_screen_board,priority:2"`
	CreatedAt   time.Time
}
