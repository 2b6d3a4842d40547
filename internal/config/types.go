// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（common.yaml + {env}.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件或进程环境中（YAML 中不存储任何密码）。
//	涉及的变量：DB_PASSWORD、REDIS_PASSWORD、OBJSTORE_ACCESS_KEY、
//	OBJSTORE_SECRET_KEY、KEEPER_JWT_SECRET、KEEPER_ADMIN_PASSWORD_HASH、
//	SESSION_KEEPER_MASTER_KEY。
//
// 配置路径确定策略：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/session-keeper/
//     - dev/test → ./configs/
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml（默认）
//   - 测试: APP_ENV=test → configs/test.yaml
//   - 生产: APP_ENV=prod → /etc/session-keeper/prod.yaml
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`   // HTTP 管理接口
	Keeper   KeeperConfig   `yaml:"keeper"`   // 守护进程本体
	Limits   LimitsConfig   `yaml:"limits"`   // 全局速率与并发上限
	Backoff  BackoffConfig  `yaml:"backoff"`  // 重连退避参数
	Archive  ArchiveConfig  `yaml:"archive"`  // 消息归档数据库
	Redis    RedisConfig    `yaml:"redis"`    // Redis 事件流（可选）
	ObjStore ObjStoreConfig `yaml:"objstore"` // 对象存储备份镜像（可选）
	Auth     AuthConfig     `yaml:"auth"`     // 管理接口认证
}

// ServerConfig HTTP 管理接口配置
type ServerConfig struct {
	Port string `yaml:"port"` // 监听端口
}

// KeeperConfig 守护进程配置
type KeeperConfig struct {
	Driver           string        `yaml:"driver"`            // 网关驱动名，默认 fake
	DataDir          string        `yaml:"data_dir"`          // 数据目录（凭据、快照、密钥文件）
	AccountsFile     string        `yaml:"accounts_file"`     // 凭据文件名，相对 data_dir
	SettingsFile     string        `yaml:"settings_file"`     // 运行时设置文件名，相对 data_dir
	SnapshotFile     string        `yaml:"snapshot_file"`     // 状态快照文件名，相对 data_dir
	MaxBackups       int           `yaml:"max_backups"`       // 快照备份保留数
	AutosaveInterval time.Duration `yaml:"autosave_interval"` // 自动保存间隔
	LogoffTimeout    time.Duration `yaml:"logoff_timeout"`    // 礼貌下线等待上限
	EncryptAtRest    bool          `yaml:"encrypt_at_rest"`   // 凭据文件落盘时是否加密敏感字段
}

// LimitsConfig 全局资源上限
type LimitsConfig struct {
	MaxRequests   int           `yaml:"max_requests"`   // 滑动窗口内的请求上限
	Window        time.Duration `yaml:"window"`         // 滑动窗口长度
	MaxConcurrent int           `yaml:"max_concurrent"` // 并发连接尝试上限
}

// BackoffConfig 指数退避参数
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`   // 首次失败后的基础延迟
	Max    time.Duration `yaml:"max"`    // 延迟封顶
	Factor float64       `yaml:"factor"` // 指数增长因子
	Jitter float64       `yaml:"jitter"` // 抖动比例（0~1）
}

// ArchiveConfig 消息归档数据库配置
type ArchiveConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite"（默认）或 "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig SQLite 归档配置
type SQLiteConfig struct {
	Path string `yaml:"path"` // 数据库文件路径，空则使用 <data_dir>/messages.db
}

// PostgresConfig PostgreSQL 归档配置
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig Redis 事件流配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`      // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"`    // 直接指定 URL，优先于 host/port/db
	Stream   string `yaml:"stream"` // 事件流键名，默认 sessionkeeper:events
}

// ObjStoreConfig 对象存储备份镜像配置
type ObjStoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 OBJSTORE_ACCESS_KEY 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 OBJSTORE_SECRET_KEY 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"` // 默认 session-keeper
}

// AuthConfig 管理接口认证配置
// 注意：JWTSecret/AdminPasswordHash 只从环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret         string `yaml:"-"`                 // 只从 KEEPER_JWT_SECRET 环境变量读取，空则认证关闭
	AccessTokenTTL    string `yaml:"access_token_ttl"`  // 例如 "15m"
	RefreshTokenTTL   string `yaml:"refresh_token_ttl"` // 例如 "168h"
	AdminUser         string `yaml:"admin_user"`        // 登录用户名，默认 admin
	AdminPasswordHash string `yaml:"-"`                 // 只从 KEEPER_ADMIN_PASSWORD_HASH 环境变量读取（bcrypt）
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	APIPort        string
	Keeper         KeeperConfig
	Limits         LimitsConfig
	Backoff        BackoffConfig
	Archive        ArchiveConfig
	DatabaseURL    string // 归档为 postgres 时的连接串
	Redis          RedisConfig
	RedisURL       string
	ObjStore       ObjStoreConfig
	Auth           AuthConfig
	ConfigFilePath string // 实际加载的配置文件路径（诊断用）
}
