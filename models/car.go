package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxImagesPerCar 是單一刊登最多可以附帶的圖片數量
const MaxImagesPerCar = 5

// Car 代表一筆刊登中的二手車
// 包含車輛資訊、賣家資訊與附帶的圖片清單
// name 欄位在寫入前一律轉成大寫，作為前綴搜尋的索引鍵
type Car struct {
	gorm.Model

	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerID     uuid.UUID  `gorm:"type:uuid;not null;index;<-:create"`
	OwnerName   string     `gorm:"type:varchar(255);not null;<-:create"`
	Name        string     `gorm:"type:varchar(255);not null;index"`
	CarModel    string     `gorm:"type:varchar(255);not null;column:car_model"`
	Year        string     `gorm:"type:varchar(32);not null"`
	Km          string     `gorm:"type:varchar(32);not null"`
	Price       string     `gorm:"type:varchar(32);not null"`
	City        string     `gorm:"type:varchar(255);not null"`
	Whatsapp    string     `gorm:"type:varchar(32);not null"`
	Description string     `gorm:"type:text;not null"`
	Images      []CarImage `gorm:"serializer:json;type:jsonb;not null"`
}

// BeforeCreate 在寫入前補上識別碼，識別碼一經指定即不再變動
func (c *Car) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CarImage 代表刊登內嵌的一張圖片的儲存位置
// name 是上傳時產生的識別碼(不是原始檔名)，物件路徑為 images/{uid}/{name}
type CarImage struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
