package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"webcarros/models"
)

var (
	// ErrNotFound 表示指定的刊登不存在
	ErrNotFound = errors.New("car not found")
	// ErrNoImages 表示刊登沒有附帶任何圖片，不允許寫入
	ErrNoImages = errors.New("car requires at least one image")
	// ErrTooManyImages 表示刊登附帶的圖片超過上限
	ErrTooManyImages = errors.New("car exceeds the image limit")
)

// namePrefixSentinel 是前綴搜尋的上界哨兵
// 所有以搜尋詞開頭的名稱都會落在 [term, term+sentinel) 的半開區間內
const namePrefixSentinel = ""

// ImageDeleter 從物件儲存中刪除一張刊登圖片
// 串接刪除時的失敗只會被記錄，不會中斷流程
type ImageDeleter interface {
	DeleteImage(ctx context.Context, uid, name string) error
}

// CarRepository 負責刊登的讀寫與圖片的串接刪除
type CarRepository struct {
	db     *gorm.DB
	images ImageDeleter
}

func NewCarRepository(db *gorm.DB, images ImageDeleter) *CarRepository {
	return &CarRepository{db: db, images: images}
}

// CarDraft 是建立刊登時由賣家填寫的欄位
type CarDraft struct {
	Name        string
	CarModel    string
	Year        string
	Km          string
	Price       string
	City        string
	Whatsapp    string
	Description string
}

// CarPatch 是編輯刊登時允許更新的欄位
type CarPatch struct {
	Km          string
	Price       string
	City        string
	Whatsapp    string
	Description string
}

// ListAll 回傳所有刊登，依建立時間由新到舊排序
func (r *CarRepository) ListAll(ctx context.Context) ([]models.Car, error) {
	const op = "CarRepository.ListAll"
	var cars []models.Car
	result := r.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Find(&cars)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list cars, err=%w", op, result.Error)
	}
	return cars, nil
}

// ListByOwner 回傳指定賣家的所有刊登，不保證順序
func (r *CarRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Car, error) {
	const op = "CarRepository.ListByOwner"
	var cars []models.Car
	result := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&cars)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list cars by owner, err=%w", op, result.Error)
	}
	return cars, nil
}

// SearchByNamePrefix 以名稱前綴搜尋刊登
// 搜尋詞會先轉成大寫再與儲存的名稱比對；空字串視同 ListAll
func (r *CarRepository) SearchByNamePrefix(ctx context.Context, term string) ([]models.Car, error) {
	const op = "CarRepository.SearchByNamePrefix"
	if term == "" {
		return r.ListAll(ctx)
	}
	upper := strings.ToUpper(term)
	var cars []models.Car
	result := r.db.WithContext(ctx).
		Where("name >= ? AND name < ?", upper, upper+namePrefixSentinel).
		Find(&cars)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to search cars, err=%w", op, result.Error)
	}
	return cars, nil
}

// GetByID 回傳指定的刊登，不存在時回傳 ErrNotFound
func (r *CarRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Car, error) {
	const op = "CarRepository.GetByID"
	var car models.Car
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&car)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Car{}, ErrNotFound
		}
		return models.Car{}, fmt.Errorf("[%s] Fail to find car, err=%w", op, result.Error)
	}
	return car, nil
}

// Create 建立一筆新刊登
// 圖片數量會在任何寫入前檢查；名稱在寫入前轉成大寫
func (r *CarRepository) Create(ctx context.Context, draft CarDraft, images []models.CarImage, ownerID uuid.UUID, ownerName string) (uuid.UUID, error) {
	const op = "CarRepository.Create"
	if err := validateImages(images); err != nil {
		return uuid.Nil, err
	}
	car := models.Car{
		OwnerID:     ownerID,
		OwnerName:   ownerName,
		Name:        strings.ToUpper(draft.Name),
		CarModel:    draft.CarModel,
		Year:        draft.Year,
		Km:          draft.Km,
		Price:       draft.Price,
		City:        draft.City,
		Whatsapp:    draft.Whatsapp,
		Description: draft.Description,
		Images:      images,
	}
	if result := r.db.WithContext(ctx).Create(&car); result.Error != nil {
		return uuid.Nil, fmt.Errorf("[%s] Fail to create car, err=%w", op, result.Error)
	}
	return car.ID, nil
}

// Update 更新刊登的可編輯欄位，並整批替換圖片清單
// 寫入成功後才對被換掉的圖片發出不重試的刪除，保留下來的圖片不受影響
// 編輯頁面送出的清單通常全為新上傳的圖片，此時等同整批串接刪除舊圖
func (r *CarRepository) Update(ctx context.Context, id uuid.UUID, patch CarPatch, images []models.CarImage) error {
	const op = "CarRepository.Update"
	if err := validateImages(images); err != nil {
		return err
	}
	car, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	// 以URL判斷哪些圖片被換掉
	removed := lo.Filter(car.Images, func(img models.CarImage, _ int) bool {
		return !lo.ContainsBy(images, func(kept models.CarImage) bool {
			return kept.URL == img.URL
		})
	})

	car.Km = patch.Km
	car.Price = patch.Price
	car.City = patch.City
	car.Whatsapp = patch.Whatsapp
	car.Description = patch.Description
	car.Images = images
	if result := r.db.WithContext(ctx).Save(&car); result.Error != nil {
		return fmt.Errorf("[%s] Fail to update car, err=%w", op, result.Error)
	}

	r.cascadeDeleteImages(ctx, car.ID, removed)
	return nil
}

// Delete 先刪除刊登本體，再盡力刪除附帶的每張圖片
// 部分圖片刪除失敗時不會回滾，孤兒物件由人工處理
func (r *CarRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "CarRepository.Delete"
	car, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if result := r.db.WithContext(ctx).Delete(&car); result.Error != nil {
		return fmt.Errorf("[%s] Fail to delete car, err=%w", op, result.Error)
	}
	r.cascadeDeleteImages(ctx, car.ID, car.Images)
	return nil
}

func (r *CarRepository) cascadeDeleteImages(ctx context.Context, carID uuid.UUID, images []models.CarImage) {
	for _, img := range images {
		if err := r.images.DeleteImage(ctx, img.UID, img.Name); err != nil {
			slog.Error("Fail to delete car image",
				slog.String("carID", carID.String()),
				slog.String("uid", img.UID),
				slog.String("name", img.Name),
				slog.Any("error", err))
		}
	}
}

func validateImages(images []models.CarImage) error {
	if len(images) == 0 {
		return ErrNoImages
	}
	if len(images) > models.MaxImagesPerCar {
		return ErrTooManyImages
	}
	return nil
}
