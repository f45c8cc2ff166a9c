package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"webcarros/adapters/oidc"
	"webcarros/adapters/session"
	"webcarros/models"
)

const (
	COOKIE_KEY_ACCESS_TOKEN = "access_token"
	COOKIE_KEY_USERNAME     = "username"

	// access token cookie 的存活時間(秒)
	accessTokenMaxAge = 10800

	ContextKeyUser = "webcarros-current-user"
)

// RequireAuth 驗證 access token cookie，並將解析後的使用者放進 context
func (impl *ServerImpl) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "RequireAuth"
		// 檢查是否有提供access token
		tokenString, err := c.Cookie(COOKIE_KEY_ACCESS_TOKEN)
		if err != nil || tokenString == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		// 解析並驗證access token
		token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey)
		if err != nil {
			slog.Error("Fail to parse and validate JWT", slog.String("op", op), slog.Any("error", err))
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(ContextKeyUser, token)
		c.Next()
	}
}

// CurrentUser 取得 RequireAuth 放進 context 的使用者
func CurrentUser(c *gin.Context) (*JWT, bool) {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil, false
	}
	token, ok := v.(*JWT)
	return token, ok
}

// Obtain authentication url
// (GET /auth/sso/{provider}/login)
func (impl *ServerImpl) GetAuthSsoProviderLogin(c *gin.Context) {
	const op = "GetAuthLogin"
	// 取得provider
	provider, ok := impl.oidcProviders[models.SSOProviderName(c.Param("provider"))]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	state, err := generateID("st")
	if err != nil {
		slog.Error("Unable to generate state", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	nonce, err := generateID("n")
	if err != nil {
		slog.Error("Unable to generate nonce", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 將交握資料存進 session，callback 時用來驗證
	sess, err := session.GetSession(c)
	if err != nil {
		slog.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	redirectUrl := c.Query("redirect_url")
	sess.Set(SESSION_KEY_REQUEST_STATE, state)
	sess.Set(SESSION_KEY_REQUEST_NONCE, nonce)
	sess.Set(SESSION_KEY_REDIRECT_URL, redirectUrl)
	sess.Set(SESSION_KEY_URL_BEFORE_LOGIN, c.Query("from"))
	if err := sess.Save(); err != nil {
		slog.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 導向 sso server 的登入頁面
	c.Redirect(http.StatusFound, provider.AuthURL(state, nonce, redirectUrl, []string{"email", "openid", "profile"}))
}

// Exchange authorization code
// (GET /auth/sso/{provider}/callback)
func (impl *ServerImpl) GetAuthSsoProviderCallback(c *gin.Context) {
	const op = "GetAuthCallback"
	// 取得provider
	providerName := models.SSOProviderName(c.Param("provider"))
	provider, ok := impl.oidcProviders[providerName]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	// 驗證 callback 的參數和login時儲存在 session 的參數是否相同
	sess, err := session.GetSession(c)
	if err != nil {
		slog.Error("Fail to get session", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	verifier := provider.NewExchangeVerifier(sess.Get(SESSION_KEY_REQUEST_STATE), sess.Get(SESSION_KEY_REQUEST_NONCE))
	// 向驗證伺服器交換token
	token, err := provider.Exchange(c, verifier, c.Query("code"), c.Query("state"), sess.Get(SESSION_KEY_REDIRECT_URL))
	if errors.Is(err, oidc.ErrStateMismatch) || errors.Is(err, oidc.ErrNonceMismatch) {
		c.Status(http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Fail to exchange token", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 關聯使用者資料(用於關聯使用者操作)
	// 如果 identity 不存在，會建立新的使用者
	ssoProvider := models.SsoProvider{Name: providerName}
	if result := impl.db.Where(&ssoProvider).First(&ssoProvider); result.Error != nil {
		slog.Error("Fail to find sso provider", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	}
	userIdentity := models.UserIdentity{
		SsoProviderID: ssoProvider.ID,
		Identity:      token.IDToken.Sub,
	}
	if result := impl.db.Preload("User").Where(&userIdentity).First(&userIdentity); result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		slog.Error("Fail to get user identity", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	} else if result.Error != nil {
		userIdentity.User = &models.User{
			Username: token.IDToken.Name,
			Email:    token.IDToken.Email.Email,
		}
		if result := impl.db.Create(&userIdentity); result.Error != nil {
			slog.Error("Fail to create user identity", slog.String("op", op), slog.Any("error", result.Error))
			c.Status(http.StatusInternalServerError)
			return
		}
	}
	// 建立token
	accessToken := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, JWT{
		Username: userIdentity.User.Username,
		Email:    userIdentity.User.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(impl.config.Auth.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    impl.config.Auth.Issuer,
			Subject:   userIdentity.User.ID.String(),
			ID:        uuid.NewString(),
			Audience:  []string{impl.config.Auth.Audience},
		},
	})
	accessTokenString, err := accessToken.SignedString(impl.config.Auth.PrivateKey)
	if err != nil {
		slog.Error("Fail to sign JWT", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 清除交握資料
	target := sess.Get(SESSION_KEY_URL_BEFORE_LOGIN)
	sess.Delete(SESSION_KEY_REQUEST_STATE)
	sess.Delete(SESSION_KEY_REQUEST_NONCE)
	sess.Delete(SESSION_KEY_REDIRECT_URL)
	sess.Delete(SESSION_KEY_URL_BEFORE_LOGIN)
	if err := sess.Save(); err != nil {
		slog.Error("Fail to save session", slog.String("op", op), slog.Any("error", err))
		c.Status(http.StatusInternalServerError)
		return
	}
	// 寫回登入 cookie 並導回登入前的頁面
	c.SetCookie(COOKIE_KEY_ACCESS_TOKEN, accessTokenString, accessTokenMaxAge, "/", "", true, true)
	c.SetCookie(COOKIE_KEY_USERNAME, base64.StdEncoding.EncodeToString([]byte(userIdentity.User.Username)), accessTokenMaxAge, "/", "", true, false)
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}

// Revoke authentication token
// (GET /auth/logout)
func (impl *ServerImpl) GetAuthLogout(c *gin.Context) {
	// only clear the cookie without revoking the token
	c.SetCookie(COOKIE_KEY_ACCESS_TOKEN, "", -1, "/", "", true, true)
	c.SetCookie(COOKIE_KEY_USERNAME, "", -1, "/", "", true, false)
	c.Status(http.StatusOK)
}

// Get user information
// (GET /user/info)
func (impl *ServerImpl) GetUserInfo(c *gin.Context) {
	const op = "GetUserInfo"
	token, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	// 取得使用者資訊
	userId := uuid.MustParse(token.Subject)
	user := models.User{ID: userId}
	if result := impl.db.First(&user); result.Error != nil {
		slog.Error("Fail to find user", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	}
	var identities []models.UserIdentity
	if result := impl.db.Preload("SsoProvider").Where(&models.UserIdentity{UserID: userId}).Find(&identities); result.Error != nil {
		slog.Error("Fail to list user identities", slog.String("op", op), slog.Any("error", result.Error))
		c.Status(http.StatusInternalServerError)
		return
	}
	connectStatus := struct {
		Google    bool `json:"google"`
		Microsoft bool `json:"microsoft"`
		GitHub    bool `json:"github"`
	}{}
	for _, identity := range identities {
		switch identity.SsoProvider.Name {
		case models.SSOProviderGoogle:
			connectStatus.Google = true
		case models.SSOProviderMicrosoft:
			connectStatus.Microsoft = true
		case models.SSOProviderGitHub:
			connectStatus.GitHub = true
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"username":     user.Username,
		"email":        user.Email,
		"ssoProviders": connectStatus,
	})
}
