package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"webcarros/imageset"
	"webcarros/models"
	"webcarros/repository"
)

// whatsapp 欄位只接受 11~12 位數字(含國碼與區碼的行動電話)
var phonePattern = regexp.MustCompile(`^\d{11,12}$`)

type carImagePayload struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type carCreatePayload struct {
	Name        string            `json:"name"`
	Model       string            `json:"model"`
	Year        string            `json:"year"`
	Km          string            `json:"km"`
	Price       string            `json:"price"`
	City        string            `json:"city"`
	Whatsapp    string            `json:"whatsapp"`
	Description string            `json:"description"`
	Images      []carImagePayload `json:"images"`
}

func (p carCreatePayload) validate() string {
	required := []lo.Tuple2[string, string]{
		{A: "name", B: p.Name},
		{A: "model", B: p.Model},
		{A: "year", B: p.Year},
		{A: "km", B: p.Km},
		{A: "price", B: p.Price},
		{A: "city", B: p.City},
		{A: "whatsapp", B: p.Whatsapp},
		{A: "description", B: p.Description},
	}
	for _, field := range required {
		if strings.TrimSpace(field.B) == "" {
			return fmt.Sprintf("Field %s is required", field.A)
		}
	}
	if !phonePattern.MatchString(p.Whatsapp) {
		return "Invalid whatsapp number"
	}
	return ""
}

type carUpdatePayload struct {
	Km          string            `json:"km"`
	Price       string            `json:"price"`
	City        string            `json:"city"`
	Whatsapp    string            `json:"whatsapp"`
	Description string            `json:"description"`
	Images      []carImagePayload `json:"images"`
}

func (p carUpdatePayload) validate() string {
	required := []lo.Tuple2[string, string]{
		{A: "km", B: p.Km},
		{A: "price", B: p.Price},
		{A: "city", B: p.City},
		{A: "whatsapp", B: p.Whatsapp},
		{A: "description", B: p.Description},
	}
	for _, field := range required {
		if strings.TrimSpace(field.B) == "" {
			return fmt.Sprintf("Field %s is required", field.A)
		}
	}
	if !phonePattern.MatchString(p.Whatsapp) {
		return "Invalid whatsapp number"
	}
	return ""
}

// buildImageSet 將請求附帶的圖片組成集合，超過上限時回傳錯誤
func buildImageSet(images []carImagePayload) (*imageset.Set, error) {
	set := imageset.New()
	for _, img := range images {
		if err := set.Add(imageset.Image{UID: img.UID, Name: img.Name, URL: img.URL}); err != nil {
			return nil, err
		}
	}
	return set, nil
}

type carSummary struct {
	Id        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Year      string    `json:"year"`
	Km        string    `json:"km"`
	Price     string    `json:"price"`
	City      string    `json:"city"`
	Cover     string    `json:"cover"`
	CreatedAt time.Time `json:"createdAt"`
}

func carSummaries(cars []models.Car) []carSummary {
	output := make([]carSummary, len(cars))
	for i, car := range cars {
		output[i] = carSummary{
			Id:        car.ID,
			Name:      car.Name,
			Year:      car.Year,
			Km:        car.Km,
			Price:     car.Price,
			City:      car.City,
			CreatedAt: car.CreatedAt,
		}
		if len(car.Images) > 0 {
			output[i].Cover = car.Images[0].URL
		}
	}
	return output
}

// List car listings
// (GET /cars)
func (impl *ServerImpl) GetCars(c *gin.Context) {
	const op = "GetCars"
	// 沒有搜尋詞時回傳全部刊登
	cars, err := impl.cars.SearchByNamePrefix(c, c.Query("name"))
	if err != nil {
		slog.Error("Fail to list cars", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(cars),
		"items": carSummaries(cars),
	})
}

// Get car listing details
// (GET /cars/{carID})
func (impl *ServerImpl) GetCarByID(c *gin.Context) {
	const op = "GetCarByID"
	// 檢查刊登是否存在
	id, err := uuid.Parse(c.Param("carID"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	car, err := impl.cars.GetByID(c, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Fail to find car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	set := imageset.FromPersisted(car.Images)
	images := make([]carImagePayload, 0, set.Len())
	for _, img := range set.Items() {
		images = append(images, carImagePayload{UID: img.UID, Name: img.Name, URL: img.URL})
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          car.ID,
		"name":        car.Name,
		"model":       car.CarModel,
		"year":        car.Year,
		"km":          car.Km,
		"price":       car.Price,
		"city":        car.City,
		"whatsapp":    car.Whatsapp,
		"description": car.Description,
		"owner":       car.OwnerName,
		"createdAt":   car.CreatedAt,
		"images":      images,
	})
}

// List the current user's car listings
// (GET /dashboard/cars)
func (impl *ServerImpl) GetDashboardCars(c *gin.Context) {
	const op = "GetDashboardCars"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	cars, err := impl.cars.ListByOwner(c, uuid.MustParse(token.Subject))
	if err != nil {
		slog.Error("Fail to list own cars", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(cars),
		"items": carSummaries(cars),
	})
}

// Add a new car listing
// (POST /cars)
func (impl *ServerImpl) PostCars(c *gin.Context) {
	const op = "PostCars"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 檢查刊登內容是否合法
	var payload carCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if msg := payload.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": msg})
		return
	}
	// 組出圖片集合，檢查數量限制
	set, err := buildImageSet(payload.Images)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	// 處理刊登描述
	draft := repository.CarDraft{
		Name:        payload.Name,
		CarModel:    payload.Model,
		Year:        payload.Year,
		Km:          payload.Km,
		Price:       payload.Price,
		City:        payload.City,
		Whatsapp:    payload.Whatsapp,
		Description: impl.htmlChecker.Sanitize(payload.Description),
	}
	// 儲存刊登
	carID, err := impl.cars.Create(c, draft, set.ToPersistable(), uuid.MustParse(token.Subject), token.Username)
	if errors.Is(err, repository.ErrNoImages) || errors.Is(err, repository.ErrTooManyImages) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Fail to create car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": carID})
}

// Update a car listing
// (PUT /cars/{carID})
func (impl *ServerImpl) PutCar(c *gin.Context) {
	const op = "PutCar"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 檢查刊登是否存在且屬於目前的使用者
	id, err := uuid.Parse(c.Param("carID"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	car, err := impl.cars.GetByID(c, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Fail to find car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	if car.OwnerID != uuid.MustParse(token.Subject) {
		c.Status(http.StatusNotFound)
		return
	}
	// 檢查更新內容是否合法
	var payload carUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if msg := payload.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": msg})
		return
	}
	// 組出圖片集合，檢查數量限制
	set, err := buildImageSet(payload.Images)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	// 更新刊登，被移除的圖片會交給worker從物件儲存中清掉
	patch := repository.CarPatch{
		Km:          payload.Km,
		Price:       payload.Price,
		City:        payload.City,
		Whatsapp:    payload.Whatsapp,
		Description: impl.htmlChecker.Sanitize(payload.Description),
	}
	err = impl.cars.Update(c, id, patch, set.ToPersistable())
	if errors.Is(err, repository.ErrNoImages) || errors.Is(err, repository.ErrTooManyImages) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Fail to update car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

// Delete a car listing
// (DELETE /cars/{carID})
func (impl *ServerImpl) DeleteCar(c *gin.Context) {
	const op = "DeleteCar"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 檢查刊登是否存在且屬於目前的使用者
	id, err := uuid.Parse(c.Param("carID"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	car, err := impl.cars.GetByID(c, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Fail to find car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	if car.OwnerID != uuid.MustParse(token.Subject) {
		c.Status(http.StatusNotFound)
		return
	}
	// 刪除刊登，附帶的圖片會交給worker從物件儲存中清掉
	if err := impl.cars.Delete(c, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		slog.Error("Fail to delete car", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}
