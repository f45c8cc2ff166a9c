package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"webcarros/adapters/cleanup"
	"webcarros/adapters/oidc"
	internalS3 "webcarros/adapters/s3"
	"webcarros/models"
	"webcarros/repository"
)

type ServerImpl struct {
	oidcProviders map[models.SSOProviderName]*oidc.Provider
	s3Operator    *internalS3.S3Operator
	htmlChecker   *bluemonday.Policy
	redisClient   *redis.Client
	cleanupWorker *cleanup.Worker
	cars          *repository.CarRepository
	db            *gorm.DB

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化OIDC提供者
	oidcProviders := make(map[models.SSOProviderName]*oidc.Provider, len(config.OIDC.Providers))
	for provider, providerConfig := range config.OIDC.Providers {
		oidcProvider, err := oidc.NewProvider(providerConfig.IssuerURL, providerConfig.ClientID, providerConfig.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to initial OIDC provider, provider=%s, err=%w", op, provider, err)
		}
		oidcProviders[provider] = oidcProvider
	}

	// 初始化S3客戶端
	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	s3Operator, err := internalS3.NewS3Operator(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化圖片清理worker
	cleanupWorker, err := cleanup.NewWorker(s3Operator, cleanup.WithWorkerLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create cleanup worker, err=%w", op, err)
	}

	return &ServerImpl{
		oidcProviders: oidcProviders,
		s3Operator:    s3Operator,
		htmlChecker:   bluemonday.UGCPolicy(),
		redisClient:   redisClient,
		cleanupWorker: cleanupWorker,
		cars:          repository.NewCarRepository(db, cleanupWorker),
		db:            db,
		config:        config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 啟動圖片清理worker
	slog.Info("Start image cleanup worker")
	impl.cleanupWorker.Start()
}

func (impl *ServerImpl) Close() {
	// 關閉圖片清理worker，等待佇列中的刪除處理完畢
	impl.cleanupWorker.Close()
}

func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.Use(impl.SessionMiddleware())

	auth := router.Group("/auth")
	auth.GET("/sso/:provider/login", impl.GetAuthSsoProviderLogin)
	auth.GET("/sso/:provider/callback", impl.GetAuthSsoProviderCallback)
	auth.GET("/logout", impl.GetAuthLogout)

	public := router.Group("/api")
	public.GET("/cars", impl.GetCars)
	public.GET("/cars/:carID", impl.GetCarByID)

	protected := router.Group("/api")
	protected.Use(impl.RequireAuth())
	protected.GET("/dashboard/cars", impl.GetDashboardCars)
	protected.POST("/cars", impl.PostCars)
	protected.PUT("/cars/:carID", impl.PutCar)
	protected.DELETE("/cars/:carID", impl.DeleteCar)
	protected.POST("/images", impl.PostImages)
	protected.DELETE("/images", impl.DeleteImages)
	protected.GET("/user/info", impl.GetUserInfo)
}

func generateID(prefix string) (string, error) {
	const op = "generateID"
	bytes := make([]byte, 20)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("[%s] Fail to generate unique id, err=%w", op, err)
	}
	return prefix + "_" + base64.URLEncoding.EncodeToString(bytes), nil
}
