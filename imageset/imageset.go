package imageset

import (
	"context"
	"errors"
	"fmt"

	"webcarros/models"
)

// ErrCapacityExceeded 表示草稿圖片數量已達上限，無法再新增
var ErrCapacityExceeded = errors.New("image set is full")

// Deleter 從物件儲存中刪除一張已上傳的圖片
type Deleter interface {
	DeleteImage(ctx context.Context, uid, name string) error
}

// Image 是刊登草稿中的一張圖片
// PreviewURL 只供草稿階段預覽使用，保存刊登時會被捨棄
type Image struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// Set 是一筆刊登草稿附帶的圖片集合
// 保持加入順序，容量上限為 models.MaxImagesPerCar
type Set struct {
	items []Image
}

func New() *Set {
	return &Set{}
}

// FromPersisted 以既有刊登的圖片建立集合，用於編輯流程
func FromPersisted(images []models.CarImage) *Set {
	s := &Set{items: make([]Image, 0, len(images))}
	for _, img := range images {
		s.items = append(s.items, Image{UID: img.UID, Name: img.Name, URL: img.URL})
	}
	return s
}

func (s *Set) Len() int {
	return len(s.items)
}

// Items 回傳集合內容的複本，依加入順序排列
func (s *Set) Items() []Image {
	out := make([]Image, len(s.items))
	copy(out, s.items)
	return out
}

// Add 將圖片附加到集合尾端
// 集合已滿時回傳 ErrCapacityExceeded，集合內容不變
func (s *Set) Add(img Image) error {
	if len(s.items) >= models.MaxImagesPerCar {
		return ErrCapacityExceeded
	}
	s.items = append(s.items, img)
	return nil
}

// Remove 先從物件儲存刪除圖片，成功後才以 URL 比對將其自集合移除
// 刪除失敗時集合保持不變，讓草稿與儲存空間不會悄悄分歧
func (s *Set) Remove(ctx context.Context, deleter Deleter, img Image) error {
	const op = "Set.Remove"
	if err := deleter.DeleteImage(ctx, img.UID, img.Name); err != nil {
		return fmt.Errorf("[%s] Fail to delete image from storage, err=%w", op, err)
	}
	kept := s.items[:0]
	for _, item := range s.items {
		if item.URL != img.URL {
			kept = append(kept, item)
		}
	}
	s.items = kept
	return nil
}

// ToPersistable 將集合投影成可以嵌入刊登的形態，去除 PreviewURL
func (s *Set) ToPersistable() []models.CarImage {
	out := make([]models.CarImage, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, models.CarImage{UID: item.UID, Name: item.Name, URL: item.URL})
	}
	return out
}
