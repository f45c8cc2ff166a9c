package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 代表二手車平台中的使用者
// 包含基本的使用者資訊，如顯示名稱與信箱
type User struct {
	gorm.Model

	ID       uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Username string    `gorm:"type:varchar(255);not null"`
	Email    string    `gorm:"type:varchar(255);not null;<-:create"`
}
