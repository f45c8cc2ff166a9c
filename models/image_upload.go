package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImageUpload 紀錄一次圖片上傳，用於計算單一使用者的上傳頻率
type ImageUpload struct {
	gorm.Model

	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Url        string    `gorm:"type:text;not null;<-:create"`
}

// BeforeCreate 在寫入前補上識別碼，識別碼一經指定即不再變動
func (u *ImageUpload) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
