package api

import (
	"crypto"
	"time"

	"webcarros/models"
)

type ServerConfig struct {
	Auth    AuthConfig
	OIDC    OIDCConfig
	S3      S3Config
	DB      DBConfig
	Redis   RedisConfig
	Session SessionConfig
}

type AuthConfig struct {
	PrivateKey     crypto.Signer
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

type OIDCConfig struct {
	Providers map[models.SSOProviderName]OIDCProviderConfig
}

type OIDCProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
}

type S3Config struct {
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	Bucket           string
	PublicBaseURL    string
	RateLimitPerHour int64
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type SessionConfig struct {
	KeyForCookie string
	CookieMaxAge time.Duration
}
