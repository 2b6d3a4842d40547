package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{
	".",
	"..",
	"../..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
// 调用后 Load 将优先从该目录加载配置文件
func SetConfigDir(dir string) {
	configDir = dir
}

// configPathsForEnv 根据环境返回配置文件搜索路径
func configPathsForEnv(env Environment) []string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	if env == EnvProduction {
		return []string{"/etc/session-keeper"}
	}
	// dev/test: 项目根目录的 configs/
	return []string{"configs", "../configs", "../../configs"}
}

// Load 加载配置
//  1. 加载 .env（敏感信息 + APP_ENV）
//  2. 根据 APP_ENV 加载 common.yaml 与 {env}.yaml
//  3. 环境变量覆盖敏感字段与常用运行参数
func Load() *Config {
	// 加载 .env
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg, loadedFrom := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	yamlCfg.Archive.Postgres.Password = os.Getenv("DB_PASSWORD")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.ObjStore.AccessKey = os.Getenv("OBJSTORE_ACCESS_KEY")
	yamlCfg.ObjStore.SecretKey = os.Getenv("OBJSTORE_SECRET_KEY")
	yamlCfg.Auth.JWTSecret = os.Getenv("KEEPER_JWT_SECRET")
	yamlCfg.Auth.AdminPasswordHash = os.Getenv("KEEPER_ADMIN_PASSWORD_HASH")

	// 常用运行参数的环境变量覆盖
	yamlCfg.Server.Port = getEnv("API_PORT", yamlCfg.Server.Port)
	yamlCfg.Keeper.DataDir = getEnv("KEEPER_DATA_DIR", yamlCfg.Keeper.DataDir)
	yamlCfg.Keeper.Driver = getEnv("KEEPER_DRIVER", yamlCfg.Keeper.Driver)

	// 构建最终配置
	cfg := &Config{
		Env:            env,
		APIPort:        yamlCfg.Server.Port,
		Keeper:         yamlCfg.Keeper,
		Limits:         yamlCfg.Limits,
		Backoff:        yamlCfg.Backoff,
		Archive:        yamlCfg.Archive,
		Redis:          yamlCfg.Redis,
		ObjStore:       yamlCfg.ObjStore,
		Auth:           yamlCfg.Auth,
		ConfigFilePath: loadedFrom,
	}
	cfg.Validate()

	cfg.DatabaseURL = buildPostgresURL(cfg.Archive.Postgres)
	cfg.RedisURL = buildRedisURL(cfg.Redis)

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) (*YAMLConfig, string) {
	cfg := defaultYAMLConfig()
	loadedFrom := ""

	paths := configPathsForEnv(env)
	if configDir != "" {
		paths = []string{configDir}
	}

	// common.yaml（公共配置）
	for _, base := range paths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			loadedFrom = path
			break
		}
	}

	// {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range paths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			loadedFrom = path
			break
		}
	}

	return cfg, loadedFrom
}

// defaultYAMLConfig 返回硬编码默认值
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{Port: "8080"},
		Keeper: KeeperConfig{
			Driver:           "fake",
			DataDir:          "data",
			AccountsFile:     "accounts.json",
			SettingsFile:     "settings.json",
			SnapshotFile:     "state.json",
			MaxBackups:       10,
			AutosaveInterval: time.Minute,
			LogoffTimeout:    5 * time.Second,
			EncryptAtRest:    true,
		},
		Limits: LimitsConfig{
			MaxRequests:   30,
			Window:        time.Minute,
			MaxConcurrent: 3,
		},
		Backoff: BackoffConfig{
			Base:   2 * time.Second,
			Max:    5 * time.Minute,
			Factor: 2.0,
			Jitter: 0.2,
		},
		Archive: ArchiveConfig{
			Driver:   "sqlite",
			Postgres: PostgresConfig{Host: "localhost", Port: 5432, User: "keeper", Name: "session_keeper", SSLMode: "disable"},
		},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0, Stream: "sessionkeeper:events"},
		ObjStore: ObjStoreConfig{Endpoint: "localhost:9000", Bucket: "session-keeper"},
		Auth:     AuthConfig{AccessTokenTTL: "15m", RefreshTokenTTL: "168h", AdminUser: "admin"},
	}
}

// Validate 验证并填充零值默认
func (c *Config) Validate() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.Keeper.Driver == "" {
		c.Keeper.Driver = "fake"
	}
	if c.Keeper.DataDir == "" {
		c.Keeper.DataDir = "data"
	}
	if c.Keeper.AccountsFile == "" {
		c.Keeper.AccountsFile = "accounts.json"
	}
	if c.Keeper.SettingsFile == "" {
		c.Keeper.SettingsFile = "settings.json"
	}
	if c.Keeper.SnapshotFile == "" {
		c.Keeper.SnapshotFile = "state.json"
	}
	if c.Keeper.MaxBackups <= 0 {
		c.Keeper.MaxBackups = 10
	}
	if c.Keeper.AutosaveInterval <= 0 {
		c.Keeper.AutosaveInterval = time.Minute
	}
	if c.Keeper.LogoffTimeout <= 0 {
		c.Keeper.LogoffTimeout = 5 * time.Second
	}
	if c.Limits.MaxRequests <= 0 {
		c.Limits.MaxRequests = 30
	}
	if c.Limits.Window <= 0 {
		c.Limits.Window = time.Minute
	}
	if c.Limits.MaxConcurrent <= 0 {
		c.Limits.MaxConcurrent = 3
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 2 * time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Minute
	}
	if c.Backoff.Factor < 1 {
		c.Backoff.Factor = 2.0
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		c.Backoff.Jitter = 0.2
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "sqlite"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "sessionkeeper:events"
	}
	if c.ObjStore.Bucket == "" {
		c.ObjStore.Bucket = "session-keeper"
	}
	if c.Auth.AdminUser == "" {
		c.Auth.AdminUser = "admin"
	}
	if c.Auth.AccessTokenTTL == "" {
		c.Auth.AccessTokenTTL = "15m"
	}
	if c.Auth.RefreshTokenTTL == "" {
		c.Auth.RefreshTokenTTL = "168h"
	}
}

// AccountsPath 返回凭据文件的绝对解析路径
func (c *Config) AccountsPath() string {
	return c.resolveDataPath(c.Keeper.AccountsFile)
}

// SettingsPath 返回运行时设置文件的绝对解析路径
func (c *Config) SettingsPath() string {
	return c.resolveDataPath(c.Keeper.SettingsFile)
}

// SQLitePath 返回 SQLite 归档库路径
func (c *Config) SQLitePath() string {
	if c.Archive.SQLite.Path != "" {
		return c.Archive.SQLite.Path
	}
	return filepath.Join(c.Keeper.DataDir, "messages.db")
}

// resolveDataPath 相对路径挂到数据目录下，绝对路径原样返回
func (c *Config) resolveDataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Keeper.DataDir, name)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, Driver: %s, DataDir: %s, Archive: %s, Redis: %s}",
		c.Env, c.APIPort, c.Keeper.Driver, c.Keeper.DataDir, c.Archive.Driver, maskPassword(c.RedisURL))
}
