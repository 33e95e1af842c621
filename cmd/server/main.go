package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/gallery-engagement/internal"
	"github.com/koopa0/gallery-engagement/internal/counter"
	"github.com/koopa0/gallery-engagement/internal/engagement"
	"github.com/koopa0/gallery-engagement/internal/localcache"
	"github.com/koopa0/gallery-engagement/internal/querycache"
	"github.com/koopa0/gallery-engagement/internal/store"
	"github.com/koopa0/gallery-engagement/internal/store/migrations"
	"github.com/koopa0/gallery-engagement/pkg/logger"
	"github.com/koopa0/gallery-engagement/pkg/retry"
)

func main() {
	// 載入配置
	config, err := loadConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	log := logger.New(config.Log.Level, config.Log.Format)

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
		MaxRetries:   config.Redis.MaxRetries,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis 掛掉不阻止啟動：所有讀寫路徑都有資料庫降級
		log.Warn("redis unavailable at startup, running degraded", "error", err)
	}
	defer redisClient.Close()

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(config.PostgresDSN())
	if err != nil {
		log.Error("failed to parse postgres config", "error", err)
		os.Exit(1)
	}

	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pgPool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	// 執行資料庫遷移
	migrator, err := migrations.New(config.PostgresURL(), log)
	if err != nil {
		log.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	migrator.Close()

	// 組裝服務
	db := store.NewPostgres(pgPool, log)

	policy := retry.Default()
	if config.Retry.MaxAttempts > 0 {
		policy = retry.Fixed(config.Retry.MaxAttempts, config.Retry.Backoff)
	}

	localCfg := localcache.DefaultConfig()
	if config.LocalCache.Capacity > 0 {
		localCfg = localcache.Config{
			Capacity:           config.LocalCache.Capacity,
			NumShards:          config.LocalCache.NumShards,
			TTL:                config.LocalCache.TTL,
			EvictionPercentage: config.LocalCache.EvictionPercentage,
		}
	}
	local := localcache.New(localCfg)

	pageCfg := querycache.DefaultConfig()
	if config.QueryCache.BaseTTL > 0 {
		pageCfg = querycache.Config{
			BaseTTL:   config.QueryCache.BaseTTL,
			TTLJitter: config.QueryCache.TTLJitter,
		}
	}
	pages := querycache.New(local, redisClient, db, pageCfg, log)

	counters := counter.New(redisClient, db, policy, log)
	eng := engagement.New(redisClient, db, counters, policy, log)
	handler := internal.NewHandler(pages, counters, eng, db, redisClient, pgPool, log)

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", config.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		// 給予 30 秒時間完成當前請求
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	log.Info("server stopped")
}

// loadConfig 載入配置檔案
func loadConfig(path string) (*internal.Config, error) {
	// #nosec G304 - path 是硬編碼的配置檔案路徑，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config internal.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &config, nil
}
