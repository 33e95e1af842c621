package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/store"
	"github.com/koopa0/gallery-engagement/internal/testutils"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

// TestPostgres_GetPicture 測試單張圖片讀取
func TestPostgres_GetPicture(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	db := store.NewPostgres(env.PostgresPool, env.Logger)
	ids := env.SeedPictures(t, 1)

	t.Run("existing picture", func(t *testing.T) {
		pic, err := db.GetPicture(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, ids[0], pic.ID)
		assert.Equal(t, "picture-1", pic.Name)
		assert.Equal(t, "landscape", pic.Category)
		assert.Equal(t, []string{"test"}, pic.Tags)
		assert.Zero(t, pic.ViewCount)
	})

	t.Run("missing picture", func(t *testing.T) {
		_, err := db.GetPicture(ctx, 99999)
		require.Error(t, err)
		assert.True(t, apperr.IsNotFound(err))
	})
}

// TestPostgres_ListPictures 測試分頁查詢
func TestPostgres_ListPictures(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	db := store.NewPostgres(env.PostgresPool, env.Logger)
	env.SeedPictures(t, 25)

	t.Run("first page newest first", func(t *testing.T) {
		pics, total, err := db.ListPictures(ctx, store.ListQuery{PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		require.Len(t, pics, 10)

		// created_at 遞減排序
		for i := 1; i < len(pics); i++ {
			assert.False(t, pics[i].CreatedAt.After(pics[i-1].CreatedAt))
		}
	})

	t.Run("last page is partial", func(t *testing.T) {
		pics, total, err := db.ListPictures(ctx, store.ListQuery{PageNum: 3, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		assert.Len(t, pics, 5)
	})

	t.Run("page beyond data is empty", func(t *testing.T) {
		pics, total, err := db.ListPictures(ctx, store.ListQuery{PageNum: 10, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		assert.Empty(t, pics)
	})

	t.Run("search matches name and introduction", func(t *testing.T) {
		pics, total, err := db.ListPictures(ctx, store.ListQuery{Search: "picture-7", PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, pics, 1)
		assert.Equal(t, "picture-7", pics[0].Name)
	})

	t.Run("category filter with no matches", func(t *testing.T) {
		pics, total, err := db.ListPictures(ctx, store.ListQuery{Category: "nonexistent", PageNum: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, pics)
	})
}

// TestPostgres_AddToCounter 測試計數欄位的原子調整
func TestPostgres_AddToCounter(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	db := store.NewPostgres(env.PostgresPool, env.Logger)
	ids := env.SeedPictures(t, 1)
	commentID := env.SeedComment(t, ids[0])

	t.Run("increment and read back", func(t *testing.T) {
		require.NoError(t, db.AddToCounter(ctx, keys.KindView, keys.TargetPicture, ids[0], 3))

		val, err := db.CounterValue(ctx, keys.KindView, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.Equal(t, int64(3), val)
	})

	t.Run("decrement clamps at zero", func(t *testing.T) {
		require.NoError(t, db.AddToCounter(ctx, keys.KindLike, keys.TargetPicture, ids[0], 1))
		require.NoError(t, db.AddToCounter(ctx, keys.KindLike, keys.TargetPicture, ids[0], -10))

		val, err := db.CounterValue(ctx, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.Zero(t, val)
	})

	t.Run("comment like counter", func(t *testing.T) {
		require.NoError(t, db.AddToCounter(ctx, keys.KindLike, keys.TargetComment, commentID, 1))

		val, err := db.CounterValue(ctx, keys.KindLike, keys.TargetComment, commentID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), val)
	})

	t.Run("missing target", func(t *testing.T) {
		err := db.AddToCounter(ctx, keys.KindView, keys.TargetPicture, 99999, 1)
		require.Error(t, err)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("invalid kind target combination", func(t *testing.T) {
		err := db.AddToCounter(ctx, keys.KindFavorite, keys.TargetComment, commentID, 1)
		require.Error(t, err)
		assert.True(t, apperr.IsInvalidInput(err))
	})
}

// TestPostgres_Engagements 測試互動記錄的冪等插入與刪除
func TestPostgres_Engagements(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	db := store.NewPostgres(env.PostgresPool, env.Logger)
	ids := env.SeedPictures(t, 1)

	t.Run("insert is idempotent via primary key", func(t *testing.T) {
		inserted, err := db.InsertEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = db.InsertEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("has engagement reflects state", func(t *testing.T) {
		active, err := db.HasEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.True(t, active)

		active, err = db.HasEngagement(ctx, 8, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		deleted, err := db.DeleteEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = db.DeleteEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("kinds are independent rows", func(t *testing.T) {
		inserted, err := db.InsertEngagement(ctx, 7, keys.KindLike, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		require.True(t, inserted)

		inserted, err = db.InsertEngagement(ctx, 7, keys.KindFavorite, keys.TargetPicture, ids[0])
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("concurrent inserts yield exactly one row", func(t *testing.T) {
		env.ResetTestData(t)
		freshIDs := env.SeedPictures(t, 1)

		const workers = 20
		results := make(chan bool, workers)

		testutils.RunConcurrently(t, workers, 1, func(workerID, iteration int) {
			inserted, err := db.InsertEngagement(ctx, 42, keys.KindLike, keys.TargetPicture, freshIDs[0])
			assert.NoError(t, err)
			results <- inserted
		})
		close(results)

		wins := 0
		for inserted := range results {
			if inserted {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})
}
