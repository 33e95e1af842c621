// Package localcache 提供行程內的第一層快取
//
// 每個服務實例各自持有一份，不做跨實例協調；跨實例的一致性
// 由共用的 Redis 層與 TTL 承擔。以 sturdyc 為底層實作，
// 容量與 TTL 有界，由建構時注入而非全域單例。
package localcache

import (
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config 快取配置
type Config struct {
	// Capacity 最大條目數
	Capacity int `yaml:"capacity"`
	// NumShards 分片數，提高並發度
	NumShards int `yaml:"num_shards"`
	// TTL 條目存活時間
	TTL time.Duration `yaml:"ttl"`
	// EvictionPercentage 容量滿時淘汰的百分比
	EvictionPercentage int `yaml:"eviction_percentage"`
}

// DefaultConfig 預設配置：一萬條、五分鐘過期
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// Cache 行程內快取，儲存序列化後的值
type Cache struct {
	client *sturdyc.Client[[]byte]
}

// New 建立行程內快取
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.NumShards <= 0 {
		cfg.NumShards = 64
	}
	if cfg.EvictionPercentage <= 0 {
		cfg.EvictionPercentage = 10
	}

	return &Cache{
		client: sturdyc.New[[]byte](
			cfg.Capacity,
			cfg.NumShards,
			cfg.TTL,
			cfg.EvictionPercentage,
		),
	}
}

// Get 讀取快取值
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.client.Get(key)
}

// Set 寫入快取值
func (c *Cache) Set(key string, value []byte) {
	c.client.Set(key, value)
}

// Delete 刪除單一鍵
func (c *Cache) Delete(key string) {
	c.client.Delete(key)
}

// DeletePrefix 刪除所有符合前綴的鍵，回傳刪除數量
func (c *Cache) DeletePrefix(prefix string) int {
	deleted := 0
	for _, key := range c.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			c.client.Delete(key)
			deleted++
		}
	}
	return deleted
}

// Size 目前條目數
func (c *Cache) Size() int {
	return c.client.Size()
}
