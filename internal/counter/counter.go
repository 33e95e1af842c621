// Package counter 實作高頻計數服務
//
// 系統設計問題：
//
//	瀏覽/點讚/收藏計數每秒大量讀寫，如何兼顧低延遲與不丟數據？
//
// 設計方案：
//
//	Redis 作為快路徑（原子 INCRBY），PostgreSQL 作為真相來源。
//	寫入先落庫（原子 UPDATE，不回滾），再調整 Redis；Redis 调整
//	失敗時有界重試，耗盡後容忍短暫髒值，下一次讀取未命中時
//	會從資料庫重新校準。
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/store"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
	"github.com/koopa0/gallery-engagement/pkg/retry"
)

// bumpScript 只在鍵存在時調整 Redis 計數
//
// 鍵不存在時保持不存在：如果在缺值時直接 INCRBY，Redis 會從 0
// 起算，與資料庫的權威值脫節且永遠不會觸發未命中校準。
// 負值一律鉗制為 0，與資料庫的 GREATEST 對齊。
var bumpScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		return -1
	end
	local v = redis.call('INCRBY', key, ARGV[1])
	if v < 0 then
		redis.call('SET', key, 0)
		return 0
	end
	return v
`)

// Service 計數服務
type Service struct {
	redis  *redis.Client
	store  store.Store
	retry  retry.Policy
	logger *slog.Logger
}

// New 建立計數服務
func New(rdb *redis.Client, st store.Store, policy retry.Policy, logger *slog.Logger) *Service {
	return &Service{
		redis:  rdb,
		store:  st,
		retry:  policy,
		logger: logger,
	}
}

// Count 讀取計數
//
// Redis 命中直接回傳；未命中時以資料庫值校準 Redis 後回傳。
// Redis 故障時降級為直讀資料庫，不影響請求成功。
func (s *Service) Count(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64) (int64, error) {
	key := keys.Counter(kind, target, targetID)

	val, err := s.redis.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Redis 故障：降級直讀資料庫，不做回寫
		s.logger.Warn("counter cache read failed, falling back to database",
			"key", key, "error", err)
		return s.authoritative(ctx, kind, target, targetID)
	}

	// 未命中：讀權威值並回寫（不設 TTL，之後的寫入會持續校準）
	authoritative, err := s.authoritative(ctx, kind, target, targetID)
	if err != nil {
		return 0, err
	}

	if err := s.redis.Set(ctx, key, authoritative, 0).Err(); err != nil {
		// 回寫失敗只影響下一次讀取的延遲
		s.logger.Warn("counter cache write-back failed", "key", key, "error", err)
	}

	return authoritative, nil
}

// Counts 以 pipeline 一次讀取圖片的三個計數
func (s *Service) Counts(ctx context.Context, pictureID int64) (map[keys.Kind]int64, error) {
	kinds := []keys.Kind{keys.KindView, keys.KindLike, keys.KindFavorite}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(kinds))
	for i, kind := range kinds {
		cmds[i] = pipe.Get(ctx, keys.Counter(kind, keys.TargetPicture, pictureID))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("counter pipeline failed, falling back to database",
			"picture_id", pictureID, "error", err)
	}

	result := make(map[keys.Kind]int64, len(kinds))
	for i, kind := range kinds {
		if val, err := cmds[i].Int64(); err == nil {
			result[kind] = val
			continue
		}
		// 單鍵未命中或 pipeline 整體失敗：走未命中校準路徑
		val, err := s.Count(ctx, kind, keys.TargetPicture, pictureID)
		if err != nil {
			return nil, err
		}
		result[kind] = val
	}

	return result, nil
}

// Add 調整計數
//
// 順序是刻意不對稱的：
//  1. 資料庫原子 UPDATE（真相來源，失敗即整體失敗，永不回滾）
//  2. Redis 調整，有界重試；耗盡後回傳致命錯誤，但資料庫的
//     變更保留——Redis 容許短暫落後，會在未命中時自行校準
func (s *Service) Add(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64, delta int64) error {
	if err := s.store.AddToCounter(ctx, kind, target, targetID, delta); err != nil {
		return err
	}

	key := keys.Counter(kind, target, targetID)
	attempt := 0
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := s.bump(ctx, key, delta); err != nil {
			s.logger.Warn("counter cache bump failed",
				"key", key,
				"delta", delta,
				"attempt", attempt,
				"error", err)
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("counter cache bump exhausted retries",
			"key", key,
			"delta", delta,
			"attempts", attempt,
			"error", err)
		return apperr.Wrap(err, apperr.ErrCodeRetryExhausted,
			fmt.Sprintf("counter cache update failed for %s", key))
	}

	return nil
}

// AddDurable 降級路徑的計數調整
//
// 只保證資料庫寫入；Redis 調整單次嘗試、失敗吞掉。
// 用於分散式鎖拿不到（爭用或 Redis 故障）時，寧可讓快取
// 短暫落後也不讓請求失敗。
func (s *Service) AddDurable(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64, delta int64) error {
	if err := s.store.AddToCounter(ctx, kind, target, targetID, delta); err != nil {
		return err
	}

	key := keys.Counter(kind, target, targetID)
	if err := s.bump(ctx, key, delta); err != nil {
		s.logger.Warn("degraded counter cache bump skipped",
			"key", key, "delta", delta, "error", err)
	}

	return nil
}

// bump 執行 Redis 端的計數調整
func (s *Service) bump(ctx context.Context, key string, delta int64) error {
	return bumpScript.Run(ctx, s.redis, []string{key}, delta).Err()
}

// authoritative 從資料庫讀取權威值；實體不存在時視為 0
func (s *Service) authoritative(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64) (int64, error) {
	val, err := s.store.CounterValue(ctx, kind, target, targetID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}
