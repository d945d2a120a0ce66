// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with OAUTHGUARD_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or OAUTHGUARD_DATA_DATABASE_SOURCE: MySQL connection string
//   - ENCRYPTION_KEY or OAUTHGUARD_AUTH_ENCRYPTION_KEY: token encryption key
//   - OAUTH_TOKEN_URL or OAUTHGUARD_OAUTH_TOKEN_URL: provider token endpoint
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("OAUTHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容不带前缀的环境变量
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "OAUTHGUARD_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "OAUTHGUARD_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "OAUTHGUARD_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "OAUTHGUARD_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("oauth.token_url", "OAUTH_TOKEN_URL", "OAUTHGUARD_OAUTH_TOKEN_URL")
	_ = v.BindEnv("oauth.client_id", "OAUTH_CLIENT_ID", "OAUTHGUARD_OAUTH_CLIENT_ID")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		OAuth: &OAuth{
			Provider:   v.GetString("oauth.provider"),
			TokenUrl:   v.GetString("oauth.token_url"),
			ClientId:   v.GetString("oauth.client_id"),
			ProxyUrl:   v.GetString("oauth.proxy_url"),
			Timeout:    durationpb.New(v.GetDuration("oauth.timeout")),
			MaxRetries: v.GetInt32("oauth.max_retries"),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetInt32("breaker.failure_threshold"),
			OpenTimeout:      durationpb.New(v.GetDuration("breaker.open_timeout")),
		},
		Lifecycle: &Lifecycle{
			Lookahead:      durationpb.New(v.GetDuration("lifecycle.lookahead")),
			Buffer:         durationpb.New(v.GetDuration("lifecycle.buffer")),
			CheckSpec:      v.GetString("lifecycle.check_spec"),
			Workers:        v.GetInt32("lifecycle.workers"),
			QueueSize:      v.GetInt32("lifecycle.queue_size"),
			RefreshTimeout: durationpb.New(v.GetDuration("lifecycle.refresh_timeout")),
		},
		Recovery: &Recovery{
			ReauthUrl: v.GetString("recovery.reauth_url"),
		},
		Auth: &Auth{
			Encryption: &Auth_Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("oauth.provider", "provider")
	v.SetDefault("oauth.timeout", 30*time.Second)
	v.SetDefault("oauth.max_retries", 3)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_timeout", 60*time.Second)

	v.SetDefault("lifecycle.lookahead", 5*time.Minute)
	v.SetDefault("lifecycle.buffer", 30*time.Minute)
	v.SetDefault("lifecycle.check_spec", "0 */15 * * * *")
	v.SetDefault("lifecycle.workers", 4)
	v.SetDefault("lifecycle.queue_size", 256)
	v.SetDefault("lifecycle.refresh_timeout", 20*time.Second)

	v.SetDefault("recovery.reauth_url", "/auth/provider")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}
	if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
		missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
	}
	if bc.OAuth == nil || bc.OAuth.TokenUrl == "" {
		missingFields = append(missingFields, "oauth.token_url (OAUTH_TOKEN_URL)")
	}
	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	var invalid []string
	if bc.Breaker != nil && bc.Breaker.FailureThreshold < 1 {
		invalid = append(invalid, "breaker.failure_threshold must be >= 1")
	}
	if bc.Lifecycle != nil {
		if bc.Lifecycle.Workers < 1 {
			invalid = append(invalid, "lifecycle.workers must be >= 1")
		}
		if bc.Lifecycle.QueueSize < 1 {
			invalid = append(invalid, "lifecycle.queue_size must be >= 1")
		}
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).
			Parse(bc.Lifecycle.CheckSpec); err != nil {
			invalid = append(invalid, fmt.Sprintf("lifecycle.check_spec %q: %v", bc.Lifecycle.CheckSpec, err))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}
