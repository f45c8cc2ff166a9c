package api

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	internalS3 "webcarros/adapters/s3"
	"webcarros/models"
	"webcarros/repository"
)

type noopDeleter struct{}

func (noopDeleter) DeleteImage(context.Context, string, string) error { return nil }

func newTestServer(t *testing.T) (*ServerImpl, *gin.Engine) {
	impl, router, _ := newTestServerWithStore(t)
	return impl, router
}

func newTestServerWithStore(t *testing.T) (*ServerImpl, *gin.Engine, *fakeObjectStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Car{}, &models.ImageUpload{}))

	store := newFakeObjectStore(t)
	client := awsS3.NewFromConfig(aws.Config{
		Region:      "auto",
		Credentials: credentials.NewStaticCredentialsProvider("test", "test", ""),
	}, func(o *awsS3.Options) {
		o.BaseEndpoint = aws.String(store.server.URL)
		o.UsePathStyle = true
		o.Retryer = aws.NopRetryer{}
	})
	s3Operator, err := internalS3.NewS3Operator(client, "webcarros-test", "https://cdn.example.com")
	require.NoError(t, err)

	redisClient, _ := redismock.NewClientMock()
	impl := &ServerImpl{
		s3Operator:  s3Operator,
		htmlChecker: bluemonday.UGCPolicy(),
		redisClient: redisClient,
		cars:        repository.NewCarRepository(db, noopDeleter{}),
		db:          db,
		config: ServerConfig{
			Auth: AuthConfig{
				PrivateKey:     ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)),
				Issuer:         "webcarros-test",
				Audience:       "webcarros-test",
				ExpireDuration: time.Hour,
			},
			S3: S3Config{
				Bucket:           "webcarros-test",
				PublicBaseURL:    "https://cdn.example.com",
				RateLimitPerHour: 100,
			},
			Session: SessionConfig{
				KeyForCookie: "session",
				CookieMaxAge: time.Hour,
			},
		},
	}

	router := gin.New()
	impl.RegisterRoutes(router)
	return impl, router, store
}

func signTestToken(t *testing.T, key crypto.Signer, userID uuid.UUID, username string) string {
	t.Helper()
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, JWT{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
	})
	tokenString, err := token.SignedString(key)
	require.NoError(t, err)
	return tokenString
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: COOKIE_KEY_ACCESS_TOKEN, Value: token})
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validCarPayload() map[string]any {
	return map[string]any{
		"name":        "Onix 1.0",
		"model":       "1.0 turbo",
		"year":        "2022/2023",
		"km":          "12000",
		"price":       "78000",
		"city":        "Campinas",
		"whatsapp":    "55199998888",
		"description": "Carro muito novo",
		"images": []map[string]any{
			{"uid": "owner-1", "name": "img-1", "url": "https://cdn.example.com/images/owner-1/img-1"},
		},
	}
}

func TestRequireAuth(t *testing.T) {
	impl, router := newTestServer(t)

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{
			name:     "缺少token時拒絕存取",
			token:    "",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "無效的token時拒絕存取",
			token:    "not-a-jwt",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "有效的token可以存取",
			token:    signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "tester"),
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodGet, "/api/dashboard/cars", tt.token, nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestPostCars_Validation(t *testing.T) {
	impl, router := newTestServer(t)
	token := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "seller")

	tests := []struct {
		name    string
		mutate  func(payload map[string]any)
		wantMsg string
	}{
		{
			name:    "缺少必填欄位",
			mutate:  func(p map[string]any) { p["city"] = "  " },
			wantMsg: "Field city is required",
		},
		{
			name:    "whatsapp格式錯誤",
			mutate:  func(p map[string]any) { p["whatsapp"] = "12345" },
			wantMsg: "Invalid whatsapp number",
		},
		{
			name: "圖片超過上限",
			mutate: func(p map[string]any) {
				images := make([]map[string]any, 0, models.MaxImagesPerCar+1)
				for i := 0; i <= models.MaxImagesPerCar; i++ {
					images = append(images, map[string]any{
						"uid":  "owner-1",
						"name": fmt.Sprintf("img-%d", i),
						"url":  fmt.Sprintf("https://cdn.example.com/images/owner-1/img-%d", i),
					})
				}
				p["images"] = images
			},
			wantMsg: "image set is full",
		},
		{
			name:    "沒有附帶圖片",
			mutate:  func(p map[string]any) { p["images"] = []map[string]any{} },
			wantMsg: "car requires at least one image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validCarPayload()
			tt.mutate(payload)
			w := doJSON(router, http.MethodPost, "/api/cars", token, payload)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}

func TestCarLifecycle(t *testing.T) {
	impl, router := newTestServer(t)
	ownerID := uuid.New()
	token := signTestToken(t, impl.config.Auth.PrivateKey, ownerID, "seller")

	// 建立刊登
	w := doJSON(router, http.MethodPost, "/api/cars", token, validCarPayload())
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Id uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEqual(t, uuid.Nil, created.Id)

	// 公開列表可以看到刊登，名稱已轉成大寫
	w = doJSON(router, http.MethodGet, "/api/cars", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Count int `json:"count"`
		Items []struct {
			Name  string `json:"name"`
			Cover string `json:"cover"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "ONIX 1.0", listing.Items[0].Name)
	assert.Equal(t, "https://cdn.example.com/images/owner-1/img-1", listing.Items[0].Cover)

	// 前綴搜尋
	w = doJSON(router, http.MethodGet, "/api/cars?name=onix", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ONIX 1.0")
	w = doJSON(router, http.MethodGet, "/api/cars?name=civic", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	// 詳細頁包含聯絡資訊
	w = doJSON(router, http.MethodGet, "/api/cars/"+created.Id.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "55199998888")
	assert.Contains(t, w.Body.String(), "seller")

	// 擁有者的dashboard可以看到刊登
	w = doJSON(router, http.MethodGet, "/api/dashboard/cars", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	// 其他使用者的dashboard看不到
	otherToken := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "other")
	w = doJSON(router, http.MethodGet, "/api/dashboard/cars", otherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	// 非擁有者不能編輯或刪除
	update := map[string]any{
		"km": "13000", "price": "75000", "city": "Campinas",
		"whatsapp": "55199998888", "description": "updated",
		"images": validCarPayload()["images"],
	}
	w = doJSON(router, http.MethodPut, "/api/cars/"+created.Id.String(), otherToken, update)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(router, http.MethodDelete, "/api/cars/"+created.Id.String(), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 擁有者可以編輯
	w = doJSON(router, http.MethodPut, "/api/cars/"+created.Id.String(), token, update)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(router, http.MethodGet, "/api/cars/"+created.Id.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":"75000"`)

	// 擁有者可以刪除，刪除後詳細頁回傳404
	w = doJSON(router, http.MethodDelete, "/api/cars/"+created.Id.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(router, http.MethodGet, "/api/cars/"+created.Id.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCarByID_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "不存在的id", path: "/api/cars/" + uuid.NewString()},
		{name: "不合法的id", path: "/api/cars/not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestPostCars_SanitizesDescription(t *testing.T) {
	impl, router := newTestServer(t)
	token := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "seller")

	payload := validCarPayload()
	payload["description"] = `great car<script>alert("x")</script>`
	w := doJSON(router, http.MethodPost, "/api/cars", token, payload)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Id uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(router, http.MethodGet, "/api/cars/"+created.Id.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Description string `json:"description"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "great car", detail.Description)
}
