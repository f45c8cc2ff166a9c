package main

import (
	"crypto"
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"webcarros/api"
	"webcarros/models"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")

	// auth config
	pflag.String("auth-private-key-seed", "", "base64 encoded ed25519 seed")
	pflag.String("auth-issuer", "webcarros", "")
	pflag.String("auth-audience", "webcarros", "")
	pflag.Duration("auth-expire-duration", 3*time.Hour, "")

	// oidc config
	pflag.String("oidc-google-issuer-url", "https://accounts.google.com", "")
	pflag.String("oidc-google-client-id", "", "")
	pflag.String("oidc-google-client-secret", "", "")
	pflag.String("oidc-microsoft-issuer-url", "", "")
	pflag.String("oidc-microsoft-client-id", "", "")
	pflag.String("oidc-microsoft-client-secret", "", "")
	pflag.String("oidc-github-issuer-url", "", "")
	pflag.String("oidc-github-client-id", "", "")
	pflag.String("oidc-github-client-secret", "", "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")
	pflag.Int64("s3-rate-limit-per-hour", 100, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "webcarros:", "")

	// session config
	pflag.String("session-key-for-cookie", "session", "")
	pflag.Duration("session-cookie-max-age", 24*time.Hour, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("WEBCARROS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// 只登記有設定client id的provider
	oidcProviders := make(map[models.SSOProviderName]api.OIDCProviderConfig)
	for _, provider := range []models.SSOProviderName{models.SSOProviderGoogle, models.SSOProviderMicrosoft, models.SSOProviderGitHub} {
		clientID := viper.GetString("oidc-" + string(provider) + "-client-id")
		if clientID == "" {
			continue
		}
		oidcProviders[provider] = api.OIDCProviderConfig{
			IssuerURL:    viper.GetString("oidc-" + string(provider) + "-issuer-url"),
			ClientID:     clientID,
			ClientSecret: viper.GetString("oidc-" + string(provider) + "-client-secret"),
		}
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			Auth: api.AuthConfig{
				PrivateKey:     parsePrivateKey(viper.GetString("auth-private-key-seed")),
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-expire-duration"),
			},
			OIDC: api.OIDCConfig{
				Providers: oidcProviders,
			},
			S3: api.S3Config{
				Endpoint:         viper.GetString("s3-endpoint"),
				Bucket:           viper.GetString("s3-bucket"),
				PublicBaseURL:    viper.GetString("s3-public-base-url"),
				AccessKeyID:      viper.GetString("s3-access-key-id"),
				SecretAccessKey:  viper.GetString("s3-secret-access-key"),
				RateLimitPerHour: viper.GetInt64("s3-rate-limit-per-hour"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
			},
			Session: api.SessionConfig{
				KeyForCookie: viper.GetString("session-key-for-cookie"),
				CookieMaxAge: viper.GetDuration("session-cookie-max-age"),
			},
		},
	}
}

// parsePrivateKey 從base64編碼的seed還原ed25519私鑰
func parsePrivateKey(encodedSeed string) crypto.Signer {
	if encodedSeed == "" {
		return nil
	}
	seed, err := base64.StdEncoding.DecodeString(encodedSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil
	}
	return ed25519.NewKeyFromSeed(seed)
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.Auth.PrivateKey != nil &&
		len(args.ServerConfig.OIDC.Providers) > 0 &&
		args.ServerConfig.S3.Bucket != "" &&
		args.ServerConfig.DB.Host != ""
}
