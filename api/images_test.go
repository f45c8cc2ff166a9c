package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcarros/models"
)

// fakeObjectStore 模擬S3後端，記錄寫入與刪除的物件路徑
type fakeObjectStore struct {
	server  *httptest.Server
	mu      sync.Mutex
	puts    []string
	deletes []string
	fail    bool
}

func newFakeObjectStore(t *testing.T) *fakeObjectStore {
	t.Helper()
	store := &fakeObjectStore{}
	store.server = httptest.NewServer(store)
	t.Cleanup(store.server.Close)
	return store
}

func (f *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	switch r.Method {
	case http.MethodPut:
		f.puts = append(f.puts, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		f.deletes = append(f.deletes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeObjectStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeObjectStore) putPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

func (f *fakeObjectStore) deletePaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// pngHeader 是合法的PNG檔案簽名，足以讓MIME判定為image/png
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func doUpload(router *gin.Engine, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/images", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: COOKIE_KEY_ACCESS_TOKEN, Value: token})
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostImages_Success(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	userID := uuid.New()
	token := signTestToken(t, impl.config.Auth.PrivateKey, userID, "seller")

	w := doUpload(router, token, pngHeader)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		UID  string `json:"uid"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, userID.String(), resp.UID)
	require.NotEmpty(t, resp.Name)
	assert.Equal(t, "https://cdn.example.com/images/"+resp.UID+"/"+resp.Name, resp.URL)

	// 物件寫入桶內對應的路徑
	require.Len(t, store.putPaths(), 1)
	assert.Equal(t, "/webcarros-test/images/"+resp.UID+"/"+resp.Name, store.putPaths()[0])

	// 留下上傳紀錄供頻率限制使用
	var count int64
	require.NoError(t, impl.db.Model(&models.ImageUpload{}).Where("uploader_id = ?", userID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPostImages_RateLimited(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	impl.config.S3.RateLimitPerHour = 1
	userID := uuid.New()
	token := signTestToken(t, impl.config.Auth.PrivateKey, userID, "seller")

	// 一小時內已有一筆上傳紀錄，再上傳就超出限制
	require.NoError(t, impl.db.Create(&models.ImageUpload{
		UploaderID: userID,
		Url:        "https://cdn.example.com/images/" + userID.String() + "/previous",
	}).Error)

	w := doUpload(router, token, pngHeader)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, store.putPaths())

	// 限制以使用者為單位，其他使用者不受影響
	otherToken := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "other")
	w = doUpload(router, otherToken, pngHeader)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPostImages_RejectsOversizedBody(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	token := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "seller")

	body := bytes.Repeat([]byte{0xff}, 5<<20+1)
	w := doUpload(router, token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reach limit")
	assert.Empty(t, store.putPaths())
}

func TestPostImages_RejectsNonImageContent(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	token := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "seller")

	w := doUpload(router, token, []byte("<script>alert(1)</script>"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid image type")
	assert.Empty(t, store.putPaths())
}

func TestDeleteImages_RemovesFromStoreAndDraft(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	userID := uuid.New()
	token := signTestToken(t, impl.config.Auth.PrivateKey, userID, "seller")

	imgA := map[string]any{
		"uid":  userID.String(),
		"name": "img-a",
		"url":  "https://cdn.example.com/images/" + userID.String() + "/img-a",
	}
	imgB := map[string]any{
		"uid":  userID.String(),
		"name": "img-b",
		"url":  "https://cdn.example.com/images/" + userID.String() + "/img-b",
	}

	w := doJSON(router, http.MethodDelete, "/api/images", token, map[string]any{
		"images": []map[string]any{imgA, imgB},
		"remove": imgA,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int               `json:"count"`
		Images []carImagePayload `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "img-b", resp.Images[0].Name)

	assert.Equal(t, []string{"/webcarros-test/images/" + userID.String() + "/img-a"}, store.deletePaths())
}

func TestDeleteImages_RejectsForeignImage(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	token := signTestToken(t, impl.config.Auth.PrivateKey, uuid.New(), "seller")

	// 只能刪除自己上傳的圖片
	foreign := map[string]any{
		"uid":  uuid.New().String(),
		"name": "img-a",
		"url":  "https://cdn.example.com/images/foreign/img-a",
	}
	w := doJSON(router, http.MethodDelete, "/api/images", token, map[string]any{
		"images": []map[string]any{foreign},
		"remove": foreign,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, store.deletePaths())
}

func TestDeleteImages_KeepsDraftWhenStoreFails(t *testing.T) {
	impl, router, store := newTestServerWithStore(t)
	store.setFail(true)
	userID := uuid.New()
	token := signTestToken(t, impl.config.Auth.PrivateKey, userID, "seller")

	img := map[string]any{
		"uid":  userID.String(),
		"name": "img-a",
		"url":  "https://cdn.example.com/images/" + userID.String() + "/img-a",
	}
	// 刪除失敗時回報錯誤，前端保留原本的清單
	w := doJSON(router, http.MethodDelete, "/api/images", token, map[string]any{
		"images": []map[string]any{img},
		"remove": img,
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
