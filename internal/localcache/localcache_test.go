package localcache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/gallery-engagement/internal/localcache"
)

func testConfig() localcache.Config {
	return localcache.Config{
		Capacity:           100,
		NumShards:          4,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

// TestCache_GetSet 測試基本讀寫
func TestCache_GetSet(t *testing.T) {
	cache := localcache.New(testConfig())

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	cache.Set("key", []byte("value"))

	got, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

// TestCache_Overwrite 測試同鍵覆寫
func TestCache_Overwrite(t *testing.T) {
	cache := localcache.New(testConfig())

	cache.Set("key", []byte("v1"))
	cache.Set("key", []byte("v2"))

	got, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, 1, cache.Size())
}

// TestCache_Delete 測試刪除
func TestCache_Delete(t *testing.T) {
	cache := localcache.New(testConfig())

	cache.Set("key", []byte("value"))
	cache.Delete("key")

	_, ok := cache.Get("key")
	assert.False(t, ok)
}

// TestCache_DeletePrefix 測試按前綴批次刪除
func TestCache_DeletePrefix(t *testing.T) {
	cache := localcache.New(testConfig())

	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("gallery:list:%d", i), []byte("page"))
	}
	cache.Set("gallery:count:view:picture:1", []byte("7"))

	deleted := cache.DeletePrefix("gallery:list:")
	assert.Equal(t, 5, deleted)

	// 前綴外的鍵不受影響
	_, ok := cache.Get("gallery:count:view:picture:1")
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		_, ok := cache.Get(fmt.Sprintf("gallery:list:%d", i))
		assert.False(t, ok)
	}
}

// TestCache_TTLExpiry 測試條目過期
func TestCache_TTLExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = 20 * time.Millisecond
	cache := localcache.New(cfg)

	cache.Set("key", []byte("value"))

	_, ok := cache.Get("key")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok = cache.Get("key")
	assert.False(t, ok)
}

// TestCache_CapacityBound 測試容量上限
func TestCache_CapacityBound(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 20
	cache := localcache.New(cfg)

	for i := 0; i < 200; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), []byte("value"))
	}

	assert.LessOrEqual(t, cache.Size(), 20)
}

// TestNew_ZeroConfig 測試零值配置退回預設值
func TestNew_ZeroConfig(t *testing.T) {
	cache := localcache.New(localcache.Config{})

	cache.Set("key", []byte("value"))
	_, ok := cache.Get("key")
	assert.True(t, ok)
}
