// Package main 会话守护进程入口
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-keeper/internal/accounts"
	"session-keeper/internal/apiserver/auth"
	"session-keeper/internal/apiserver/server"
	"session-keeper/internal/archive"
	pgdriver "session-keeper/internal/archive/driver/postgres"
	sqlitedriver "session-keeper/internal/archive/driver/sqlite"
	"session-keeper/internal/archive/repository"
	"session-keeper/internal/config"
	"session-keeper/internal/gateway"
	"session-keeper/internal/keeper"
	"session-keeper/internal/limiter"
	"session-keeper/internal/secrets"
	"session-keeper/internal/shared/eventbus"
	redisbus "session-keeper/internal/shared/eventbus/redis"
	"session-keeper/internal/shared/objstore"
	"session-keeper/internal/state"
)

func main() {
	configDir := flag.String("config", "", "配置目录（默认按 APP_ENV 搜索）")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（自动加载 .env，凭据只从环境变量读取）
	cfg := config.Load()

	log.Printf("Starting Session Keeper... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 主密钥与加密管理器
	// encrypt_at_rest 关闭但环境里有主密钥时仍然装载，
	// 这样上一次加密落盘的凭据文件依旧可读。
	var crypto *secrets.Manager
	if cfg.Keeper.EncryptAtRest || os.Getenv(secrets.MasterKeyEnv) != "" {
		key, source, err := secrets.LoadMasterKey(cfg.Keeper.DataDir)
		if err != nil {
			log.Fatalf("Failed to load master key: %v", err)
		}
		crypto, err = secrets.NewManager(key)
		if err != nil {
			log.Fatalf("Failed to init crypto manager: %v", err)
		}
		if source == secrets.KeySourceGenerated {
			log.Printf("Generated new master key in %s (back it up!)", cfg.Keeper.DataDir)
		}
		log.Printf("Credential encryption ready [key=%s]", source)
	}

	// 凭据存储
	accountStore := accounts.NewStore(cfg.AccountsPath(), crypto, nil)
	if err := accountStore.Load(); err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}

	// 运行时设置
	settingsStore := config.NewSettingsStore(cfg.SettingsPath(), nil)
	if err := settingsStore.Load(); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	// 状态快照
	stateMgr, err := state.NewManager(state.Config{
		Dir:        cfg.Keeper.DataDir,
		FileName:   cfg.Keeper.SnapshotFile,
		MaxBackups: cfg.Keeper.MaxBackups,
	}, nil)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}

	// 备份镜像（可选）
	if cfg.ObjStore.Enabled {
		mirror, err := objstore.NewClient(cfg.ObjStore)
		if err != nil {
			log.Fatalf("Failed to init object store: %v", err)
		}
		bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mirror.EnsureBucket(bucketCtx); err != nil {
			cancelBucket()
			log.Fatalf("Failed to ensure backup bucket: %v", err)
		}
		cancelBucket()
		stateMgr.SetMirror(mirror)
		log.Printf("Backup mirror enabled [endpoint=%s bucket=%s]", cfg.ObjStore.Endpoint, cfg.ObjStore.Bucket)
	}

	// 事件总线：默认内存环形缓冲，可切 Redis Streams
	var bus eventbus.SessionEventBus
	if cfg.Redis.Enabled {
		rb, err := redisbus.NewBus(cfg.RedisURL, cfg.Redis.Stream)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		bus = rb
		log.Println("Connected to Redis event stream")
	} else {
		bus = eventbus.NewMemoryBus()
	}
	defer bus.Close()

	// 消息归档：默认 SQLite，可切 PostgreSQL
	var msgArchive archive.Store
	switch cfg.Archive.Driver {
	case "postgres":
		db, err := pgdriver.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		dialect := pgdriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			log.Fatalf("Failed to migrate archive schema: %v", err)
		}
		msgArchive = repository.NewStore(db, dialect)
		log.Println("Connected to PostgreSQL archive")
	default:
		db, err := sqlitedriver.Open(cfg.SQLitePath())
		if err != nil {
			log.Fatalf("Failed to open SQLite archive: %v", err)
		}
		dialect := sqlitedriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			log.Fatalf("Failed to migrate archive schema: %v", err)
		}
		msgArchive = repository.NewStore(db, dialect)
		log.Printf("Opened SQLite archive [path=%s]", cfg.SQLitePath())
	}
	defer msgArchive.Close()

	// 网关驱动
	drivers := gateway.NewRegistry()
	drivers.Register(gateway.NewFakeDialer())
	dialer, ok := drivers.Get(cfg.Keeper.Driver)
	if !ok {
		log.Fatalf("Unknown gateway driver %q (available: %v)", cfg.Keeper.Driver, drivers.List())
	}

	// 会话编排器
	registry, err := keeper.NewSessionRegistry(keeper.Config{
		Dialer:        dialer,
		Accounts:      accountStore,
		Settings:      settingsStore,
		State:         stateMgr,
		Bus:           bus,
		Archive:       msgArchive,
		Rate:          limiter.NewRateLimiter(cfg.Limits.MaxRequests, cfg.Limits.Window),
		Semaphore:     limiter.NewConcurrencyLimiter(cfg.Limits.MaxConcurrent),
		Backoff:       limiter.NewBackoff(cfg.Backoff.Base, cfg.Backoff.Max, cfg.Backoff.Factor, cfg.Backoff.Jitter),
		LogoffTimeout: cfg.Keeper.LogoffTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to init session registry: %v", err)
	}

	// 恢复上次快照：autoReconnect 开启时按启动错峰延迟逐个重连
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Restore(restoreCtx); err != nil {
		log.Printf("State restore failed: %v", err)
	}
	cancelRestore()

	stateMgr.EnableAutoSave(cfg.Keeper.AutosaveInterval, registry.PersistedState)

	// 管理接口认证
	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.Auth.JWTSecret
	authCfg.AdminPasswordHash = cfg.Auth.AdminPasswordHash
	if cfg.Auth.AdminUser != "" {
		authCfg.AdminUser = cfg.Auth.AdminUser
	}
	if d, err := time.ParseDuration(cfg.Auth.AccessTokenTTL); err == nil && d > 0 {
		authCfg.AccessTokenTTL = d
	}
	if d, err := time.ParseDuration(cfg.Auth.RefreshTokenTTL); err == nil && d > 0 {
		authCfg.RefreshTokenTTL = d
	}
	if !authCfg.Enabled() {
		log.Println("WARNING: KEEPER_JWT_SECRET is not set, management API auth is disabled")
	}

	h := server.NewHandler(server.Deps{
		Registry: registry,
		Accounts: accountStore,
		Settings: settingsStore,
		State:    stateMgr,
		Bus:      bus,
		Archive:  msgArchive,
		Auth:     authCfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Management API listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	// HTTP 停止后再礼貌下线全部会话并写最终快照
	stateMgr.DisableAutoSave()
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Close(closeCtx); err != nil {
		log.Printf("Session shutdown error: %v", err)
	}
	cancelClose()

	fmt.Println("Server stopped")
}
