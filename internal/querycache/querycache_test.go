package querycache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/gallery-engagement/internal/localcache"
	"github.com/koopa0/gallery-engagement/internal/querycache"
	"github.com/koopa0/gallery-engagement/internal/store"
	"github.com/koopa0/gallery-engagement/internal/testutils"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

func testLocal() *localcache.Cache {
	return localcache.New(localcache.Config{
		Capacity:           100,
		NumShards:          4,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	})
}

func seedMock(n int) *testutils.MockStore {
	mock := testutils.NewMockStore()
	for i := 1; i <= n; i++ {
		mock.AddPicture(testutils.SamplePicture(int64(i)))
	}
	return mock
}

// deadRedis 回傳指向不存在端點的客戶端，模擬 Redis 故障
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

// TestCache_GetPage 測試兩層快取的讀取順序
func TestCache_GetPage(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	t.Run("miss loads from database then hits local", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(25)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		q := store.ListQuery{PageNum: 1, PageSize: 10}

		page, err := cache.GetPage(ctx, q)
		require.NoError(t, err)
		assert.Len(t, page.Records, 10)
		assert.Equal(t, int64(25), page.Total)
		assert.Equal(t, 1, page.PageNum)
		assert.Equal(t, int32(1), mock.ListCalls.Load())

		// 第二次讀取命中本地快取，不再落庫
		page, err = cache.GetPage(ctx, q)
		require.NoError(t, err)
		assert.Len(t, page.Records, 10)
		assert.Equal(t, int32(1), mock.ListCalls.Load())
	})

	t.Run("redis tier shared across instances", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(5)
		q := store.ListQuery{PageNum: 1, PageSize: 10}

		// 第一個實例填充 Redis
		first := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)
		_, err := first.GetPage(ctx, q)
		require.NoError(t, err)
		require.Equal(t, int32(1), mock.ListCalls.Load())

		// 第二個實例（本地快取獨立）從 Redis 命中，不落庫
		second := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)
		page, err := second.GetPage(ctx, q)
		require.NoError(t, err)
		assert.Len(t, page.Records, 5)
		assert.Equal(t, int32(1), mock.ListCalls.Load())
	})

	t.Run("distinct queries use distinct cache entries", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(25)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		page1, err := cache.GetPage(ctx, store.ListQuery{PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		page2, err := cache.GetPage(ctx, store.ListQuery{PageNum: 2, PageSize: 10})
		require.NoError(t, err)

		assert.Equal(t, int32(2), mock.ListCalls.Load())
		assert.NotEqual(t, page1.Records[0].ID, page2.Records[0].ID)
	})

	t.Run("category filter narrows results", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(5)
		other := testutils.SamplePicture(100)
		other.Category = "portrait"
		mock.AddPicture(other)

		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		page, err := cache.GetPage(ctx, store.ListQuery{Category: "portrait", PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.Equal(t, int64(100), page.Records[0].ID)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("page size above limit is rejected", func(t *testing.T) {
		mock := seedMock(1)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		_, err := cache.GetPage(ctx, store.ListQuery{PageNum: 1, PageSize: 50})
		require.Error(t, err)
		assert.True(t, apperr.IsInvalidInput(err))
		assert.Equal(t, int32(0), mock.ListCalls.Load())
	})

	t.Run("zero values normalized to defaults", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(15)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		page, err := cache.GetPage(ctx, store.ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.PageNum)
		assert.Equal(t, 10, page.PageSize)
		assert.Len(t, page.Records, 10)
	})

	t.Run("page beyond data returns empty page with total", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(5)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		page, err := cache.GetPage(ctx, store.ListQuery{PageNum: 9, PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Records)
		assert.Equal(t, int64(5), page.Total)
	})

	t.Run("redis outage bypasses to database", func(t *testing.T) {
		mock := seedMock(3)
		cache := querycache.New(testLocal(), deadRedis(), mock, querycache.DefaultConfig(), env.Logger)

		page, err := cache.GetPage(ctx, store.ListQuery{PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, page.Records, 3)
		assert.Equal(t, int32(1), mock.ListCalls.Load())

		// 本地快取仍然生效
		_, err = cache.GetPage(ctx, store.ListQuery{PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int32(1), mock.ListCalls.Load())
	})
}

// TestCache_TTLJitter 測試隨機化 TTL 落在預期區間
func TestCache_TTLJitter(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()
	env.FlushRedis(t)

	mock := seedMock(25)
	cfg := querycache.Config{
		BaseTTL:   300 * time.Second,
		TTLJitter: 300 * time.Second,
	}
	cache := querycache.New(testLocal(), env.RedisClient, mock, cfg, env.Logger)

	// 填充多個不同的查詢鍵
	for page := 1; page <= 3; page++ {
		_, err := cache.GetPage(ctx, store.ListQuery{PageNum: page, PageSize: 10})
		require.NoError(t, err)
	}

	keysFound, err := env.RedisClient.Keys(ctx, "gallery:list:*").Result()
	require.NoError(t, err)
	require.Len(t, keysFound, 3)

	for _, key := range keysFound {
		ttl, err := env.RedisClient.TTL(ctx, key).Result()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ttl, 299*time.Second, "ttl below base for %s", key)
		assert.LessOrEqual(t, ttl, 600*time.Second, "ttl above base+jitter for %s", key)
	}
}

// TestCache_Refresh 測試主動刷新後回到資料庫取新資料
func TestCache_Refresh(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	t.Run("refresh clears both tiers", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(5)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		q := store.ListQuery{PageNum: 1, PageSize: 10}

		page, err := cache.GetPage(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
		require.Equal(t, int32(1), mock.ListCalls.Load())

		// 新增一張圖片後刷新，下一次讀取必須看到新資料
		mock.AddPicture(testutils.SamplePicture(50))
		require.True(t, cache.Refresh(ctx, ""))

		page, err = cache.GetPage(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(6), page.Total)
		assert.Equal(t, int32(2), mock.ListCalls.Load())
	})

	t.Run("refresh leaves counter keys untouched", func(t *testing.T) {
		env.FlushRedis(t)

		mock := seedMock(2)
		cache := querycache.New(testLocal(), env.RedisClient, mock, querycache.DefaultConfig(), env.Logger)

		_, err := cache.GetPage(ctx, store.ListQuery{PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		require.NoError(t, env.RedisClient.Set(ctx, "gallery:count:view:picture:1", 42, 0).Err())

		require.True(t, cache.Refresh(ctx, ""))

		val, err := env.RedisClient.Get(ctx, "gallery:count:view:picture:1").Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(42), val)
	})

	t.Run("refresh reports failure when redis is down", func(t *testing.T) {
		mock := seedMock(1)
		cache := querycache.New(testLocal(), deadRedis(), mock, querycache.DefaultConfig(), env.Logger)

		assert.False(t, cache.Refresh(ctx, ""))
	})
}
