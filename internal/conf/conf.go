package conf

import (
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap 服务全部配置
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Log       *Log
	OAuth     *OAuth
	Breaker   *Breaker
	Lifecycle *Lifecycle
	Recovery  *Recovery
	Auth      *Auth
}

// Server HTTP 监听配置
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP HTTP server
//
//nolint:revive // 与 Kratos 生成的配置类型命名保持一致
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data 存储配置
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database MySQL
//
//nolint:revive
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis Redis
//
//nolint:revive
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log 日志配置
type Log struct {
	Level      string
	Format     string // json | console
	Env        string // production | development
	OutputFile string
}

// OAuth Provider 配置
type OAuth struct {
	Provider   string
	TokenUrl   string //nolint:revive
	ClientId   string //nolint:revive
	ProxyUrl   string //nolint:revive
	Timeout    *durationpb.Duration
	MaxRetries int32
}

// Breaker 熔断默认配置（未注册的操作使用）
type Breaker struct {
	FailureThreshold int32
	OpenTimeout      *durationpb.Duration
}

// Lifecycle Token 生命周期配置
type Lifecycle struct {
	Lookahead      *durationpb.Duration // needs-refresh 窗口
	Buffer         *durationpb.Duration // 定时检查的过期缓冲
	CheckSpec      string               // cron 表达式（带秒）
	Workers        int32
	QueueSize      int32
	RefreshTimeout *durationpb.Duration
}

// Recovery 恢复策略配置
type Recovery struct {
	ReauthUrl string //nolint:revive
}

// Auth 密钥配置
type Auth struct {
	Encryption *Auth_Encryption
}

// Auth_Encryption Token 落库加密
//
//nolint:revive
type Auth_Encryption struct {
	Key string
}

// AsDuration 安全读取 durationpb，nil 时返回 fallback
func AsDuration(d *durationpb.Duration, fallback time.Duration) time.Duration {
	if d == nil || d.AsDuration() <= 0 {
		return fallback
	}
	return d.AsDuration()
}
