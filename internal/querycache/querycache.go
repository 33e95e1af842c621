// Package querycache 實作分頁查詢的兩層快取
//
// 系統設計問題：
//
//	首頁列表是最熱的讀路徑，如何避免重複查詢壓垮資料庫？
//
// 設計方案：
//
//	本地快取（行程內）→ Redis（跨實例共享）→ PostgreSQL。
//	Redis 寫入使用隨機化 TTL（基準 300 秒 + 0~300 秒抖動），
//	避免大量鍵同時過期造成快取雪崩。
//	Redis 故障時讀路徑直接落庫（降級不失敗），快取寫入失敗
//	只記日誌、不影響請求結果。
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/localcache"
	"github.com/koopa0/gallery-engagement/internal/store"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

const (
	// maxPageSize 單頁上限，限制爬蟲
	maxPageSize = 20

	// defaultPageSize 未指定時的單頁筆數
	defaultPageSize = 10
)

// Config 快取配置
type Config struct {
	// BaseTTL Redis 條目的基準存活時間
	BaseTTL time.Duration `yaml:"base_ttl"`
	// TTLJitter 疊加在基準上的隨機抖動上限
	TTLJitter time.Duration `yaml:"ttl_jitter"`
}

// DefaultConfig 預設配置：5~10 分鐘隨機過期
func DefaultConfig() Config {
	return Config{
		BaseTTL:   300 * time.Second,
		TTLJitter: 300 * time.Second,
	}
}

// Cache 分頁查詢結果快取
type Cache struct {
	local  *localcache.Cache
	redis  *redis.Client
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// New 建立查詢快取
func New(local *localcache.Cache, rdb *redis.Client, st store.Store, cfg Config, logger *slog.Logger) *Cache {
	if cfg.BaseTTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Cache{
		local:  local,
		redis:  rdb,
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

// GetPage 取得一頁圖片列表
//
// 查詢順序：本地快取 → Redis → 資料庫。一律回傳完整的一頁，
// 不會回傳部分填充的結果。
func (c *Cache) GetPage(ctx context.Context, q store.ListQuery) (*store.Page, error) {
	q, err := normalize(q)
	if err != nil {
		return nil, err
	}

	key := keys.ListPage(digest(q))

	// 1. 本地快取（無網路開銷）
	if data, ok := c.local.Get(key); ok {
		return decodePage(data)
	}

	// 2. Redis；命中時回填本地快取
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		c.local.Set(key, data)
		return decodePage(data)
	}
	if !errors.Is(err, redis.Nil) {
		// Redis 故障：略過第二層，直接落庫
		c.logger.Warn("query cache read failed, bypassing to database",
			"key", key, "error", err)
	}

	// 3. 落庫並組裝視圖
	page, err := c.loadPage(ctx, q)
	if err != nil {
		return nil, err
	}

	// 4. 回寫兩層快取；失敗不影響本次請求
	encoded, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	c.local.Set(key, encoded)

	ttl := c.cfg.BaseTTL
	if c.cfg.TTLJitter > 0 {
		ttl += rand.N(c.cfg.TTLJitter)
	}
	if err := c.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		c.logger.Warn("query cache write failed",
			"key", key, "ttl", ttl, "error", err)
	}

	return page, nil
}

// Refresh 管理操作：清除列表快取
//
// scope 為空時清除整個列表命名空間。與進行中的讀取並發安全：
// 撞上刷新的讀取會落庫重新填充，不會讀到超過一輪往返的舊值。
func (c *Cache) Refresh(ctx context.Context, scope string) bool {
	pattern := keys.ListPrefix() + scope + "*"

	var deleted int
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Error("query cache refresh delete failed",
				"key", iter.Val(), "error", err)
			return false
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("query cache refresh scan failed",
			"pattern", pattern, "error", err)
		return false
	}

	evicted := c.local.DeletePrefix(keys.ListPrefix() + scope)

	c.logger.Info("query cache refreshed",
		"pattern", pattern,
		"redis_deleted", deleted,
		"local_evicted", evicted)
	return true
}

// loadPage 從資料庫載入並組裝一頁視圖
func (c *Cache) loadPage(ctx context.Context, q store.ListQuery) (*store.Page, error) {
	pictures, total, err := c.store.ListPictures(ctx, q)
	if err != nil {
		return nil, err
	}

	records := make([]store.PictureView, 0, len(pictures))
	for i := range pictures {
		records = append(records, pictures[i].View())
	}

	return &store.Page{
		Records:  records,
		PageNum:  q.PageNum,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// normalize 參數正規化，讓語意相同的查詢共用同一個快取鍵
func normalize(q store.ListQuery) (store.ListQuery, error) {
	if q.PageNum <= 0 {
		q.PageNum = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		return q, apperr.ErrInvalidQuery.WithDetails(
			fmt.Sprintf("page size %d exceeds limit %d", q.PageSize, maxPageSize))
	}
	return q, nil
}

// digest 查詢參數的確定性雜湊
func digest(q store.ListQuery) string {
	// 結構體欄位順序固定，json.Marshal 的輸出是確定性的
	data, _ := json.Marshal(q)
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// decodePage 反序列化快取中的一頁
func decodePage(data []byte) (*store.Page, error) {
	var page store.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode cached page: %w", err)
	}
	return &page, nil
}
