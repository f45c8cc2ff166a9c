package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	internalS3 "webcarros/adapters/s3"
	"webcarros/imageset"
	"webcarros/models"
)

// Upload an image
// (POST /images)
func (impl *ServerImpl) PostImages(c *gin.Context) {
	const op = "PostImages"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	userId := uuid.MustParse(token.Subject)
	// 檢查是否達到上傳限制
	var uploadedCount int64
	if result := impl.db.Model(&models.ImageUpload{}).
		Where("uploader_id = ? AND created_at > ?", userId, time.Now().Add(-1*time.Hour)).
		Count(&uploadedCount); result.Error != nil {
		slog.Error("Fail to count uploaded images", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	}
	if impl.config.S3.RateLimitPerHour > 0 && uploadedCount >= impl.config.S3.RateLimitPerHour {
		c.Status(http.StatusTooManyRequests)
		return
	}
	// 限制圖片
	// 	1. 小於5MB
	// 	2. MIME類型為不包含腳本的圖片檔案
	body := internalS3.NewMaxSizeReader(c.Request.Body, 5<<20)
	file, err := io.ReadAll(body)
	if errors.As(err, &internalS3.ErrReachLimitType) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Fail to read image", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	mimeType := http.DetectContentType(file)
	secure, _ := internalS3.CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("Invalid image type: %s", mimeType)})
		return
	}
	// 透過S3 API儲存圖片
	assetID := uuid.New().String()
	url, err := impl.s3Operator.UploadImage(c, userId.String(), assetID, mimeType, file)
	if err != nil {
		slog.Error("Fail to upload image", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 在DB紀錄圖片的上傳紀錄
	image := models.ImageUpload{
		UploaderID: userId,
		Url:        url,
	}
	if result := impl.db.Create(&image); result.Error != nil {
		slog.Error("Fail to record image upload", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"uid":  userId.String(),
		"name": assetID,
		"url":  url,
	})
}

// Remove an uploaded image from a listing draft
// (DELETE /images)
func (impl *ServerImpl) DeleteImages(c *gin.Context) {
	const op = "DeleteImages"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 請求攜帶草稿目前的圖片清單與要移除的那張
	var payload struct {
		Images []carImagePayload `json:"images"`
		Remove carImagePayload   `json:"remove"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Remove.UID == "" || payload.Remove.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	// 只允許刪除自己的圖片
	if payload.Remove.UID != token.Subject {
		c.Status(http.StatusForbidden)
		return
	}
	set, err := buildImageSet(payload.Images)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	// 先刪物件儲存，成功才過濾草稿；失敗時回報錯誤讓前端保留原本的清單
	target := imageset.Image{UID: payload.Remove.UID, Name: payload.Remove.Name, URL: payload.Remove.URL}
	if err := set.Remove(c, impl.s3Operator, target); err != nil {
		slog.Error("Fail to delete image", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	images := make([]carImagePayload, 0, set.Len())
	for _, img := range set.Items() {
		images = append(images, carImagePayload{UID: img.UID, Name: img.Name, URL: img.URL})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  set.Len(),
		"images": images,
	})
}
