// Package engagement 實作點讚/收藏的狀態機
//
// 系統設計問題：
//
//	使用者連點兩次讚，如何保證恰好生效一次？
//
// 核心挑戰：
//  1. 同一使用者對同一目標的並發切換（雙擊、重送）
//  2. Redis 標記與資料庫記錄的一致性
//  3. Redis 故障時服務要降級而不是報錯
//
// 設計方案：
//
//	每個 (user, target, kind) 一把短 TTL 的分散式鎖（SETNX），
//	保護 read-check-write 序列；鎖只鎖單一鍵，不同使用者或
//	不同目標之間互不阻塞。拿不到鎖（爭用或 Redis 故障）時
//	退化為純資料庫路徑，靠互動表的複合主鍵守住冪等底線。
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/gallery-engagement/internal/counter"
	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/store"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
	"github.com/koopa0/gallery-engagement/pkg/retry"
)

const (
	// defaultLockTTL 鎖的存活時間；持有者崩潰後由 TTL 兜底釋放
	defaultLockTTL = 5 * time.Second

	// defaultFlagTTL 互動標記的存活時間；過期後由資料庫記錄兜底
	defaultFlagTTL = 24 * time.Hour
)

// unlockScript 只釋放自己持有的鎖
//
// 比較 token 再刪除必須是原子的，否則可能誤刪下一個持有者
// 在 TTL 過期後取得的鎖。
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Service 互動切換服務
type Service struct {
	redis   *redis.Client
	store   store.Store
	counter *counter.Service
	retry   retry.Policy
	logger  *slog.Logger

	lockTTL time.Duration
	flagTTL time.Duration
}

// New 建立互動切換服務
func New(rdb *redis.Client, st store.Store, ctr *counter.Service, policy retry.Policy, logger *slog.Logger) *Service {
	return &Service{
		redis:   rdb,
		store:   st,
		counter: ctr,
		retry:   policy,
		logger:  logger,
		lockTTL: defaultLockTTL,
		flagTTL: defaultFlagTTL,
	}
}

// Toggle 切換使用者對目標的互動狀態
//
// engage 為 true 表示點讚/收藏，false 表示取消。
// 業務錯誤（已點過、未點過）原樣回傳，不重試；
// Redis 瞬時錯誤走有界重試，耗盡後以系統錯誤回傳。
func (s *Service) Toggle(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64, engage bool) error {
	if err := validate(kind, target); err != nil {
		return err
	}

	flagKey := keys.EngagedFlag(userID, kind, target, targetID)
	lockKey := keys.Lock(flagKey)
	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Int64())

	acquired, err := s.redis.SetNX(ctx, lockKey, token, s.lockTTL).Result()
	if err != nil || !acquired {
		// 拿不到鎖：爭用或 Redis 故障，退化為純資料庫路徑。
		// 競爭視窗由互動表的複合主鍵收斂到恰好一次。
		if err != nil {
			s.logger.Warn("engagement lock unavailable, using durable-only path",
				"lock", lockKey, "error", err)
		}
		return s.toggleDurable(ctx, userID, kind, target, targetID, engage)
	}
	defer s.unlock(lockKey, token)

	if engage {
		return s.engage(ctx, userID, kind, target, targetID, flagKey)
	}
	return s.disengage(ctx, userID, kind, target, targetID, flagKey)
}

// engage 處理 Inactive → Active 轉換（鎖內）
func (s *Service) engage(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64, flagKey string) error {
	flagged, err := s.flagExists(ctx, flagKey)
	if err != nil {
		return err
	}
	if flagged {
		return apperr.ErrAlreadyEngaged
	}

	// 資料庫寫入是提交點；之後的任何失敗都不會回滾它
	inserted, err := s.store.InsertEngagement(ctx, userID, kind, target, targetID)
	if err != nil {
		return err
	}
	if !inserted {
		// 標記過期但記錄還在
		return apperr.ErrAlreadyEngaged
	}

	if err := s.counter.Add(ctx, kind, target, targetID, +1); err != nil {
		return err
	}

	// 標記寫入失敗時狀態仍正確，只是快取變冷，下次讀取自癒
	return s.writeFlag(ctx, flagKey)
}

// disengage 處理 Active → Inactive 轉換（鎖內）
func (s *Service) disengage(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64, flagKey string) error {
	flagged, err := s.flagExists(ctx, flagKey)
	if err != nil {
		return err
	}
	if !flagged {
		// 標記可能已過期，以資料庫記錄為準
		active, err := s.store.HasEngagement(ctx, userID, kind, target, targetID)
		if err != nil {
			return err
		}
		if !active {
			return apperr.ErrNotEngaged
		}
	}

	deleted, err := s.store.DeleteEngagement(ctx, userID, kind, target, targetID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.ErrNotEngaged
	}

	if err := s.counter.Add(ctx, kind, target, targetID, -1); err != nil {
		return err
	}

	return s.deleteFlag(ctx, flagKey)
}

// toggleDurable 降級路徑：只操作資料庫，跳過標記讀寫
//
// 冪等性由互動表的複合主鍵保證；計數走 AddDurable，
// Redis 端盡力而為。
func (s *Service) toggleDurable(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64, engage bool) error {
	if engage {
		inserted, err := s.store.InsertEngagement(ctx, userID, kind, target, targetID)
		if err != nil {
			return err
		}
		if !inserted {
			return apperr.ErrAlreadyEngaged
		}
		return s.counter.AddDurable(ctx, kind, target, targetID, +1)
	}

	deleted, err := s.store.DeleteEngagement(ctx, userID, kind, target, targetID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.ErrNotEngaged
	}
	return s.counter.AddDurable(ctx, kind, target, targetID, -1)
}

// flagExists 讀取互動標記，瞬時錯誤走有界重試
func (s *Service) flagExists(ctx context.Context, flagKey string) (bool, error) {
	var exists bool
	attempt := 0
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		n, err := s.redis.Exists(ctx, flagKey).Result()
		if err != nil {
			s.logger.Warn("engagement flag read failed",
				"key", flagKey, "attempt", attempt, "error", err)
			return err
		}
		exists = n > 0
		return nil
	})
	return exists, err
}

// writeFlag 設置互動標記
func (s *Service) writeFlag(ctx context.Context, flagKey string) error {
	attempt := 0
	return s.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := s.redis.Set(ctx, flagKey, "1", s.flagTTL).Err(); err != nil {
			s.logger.Warn("engagement flag write failed",
				"key", flagKey, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
}

// deleteFlag 刪除互動標記
func (s *Service) deleteFlag(ctx context.Context, flagKey string) error {
	attempt := 0
	return s.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := s.redis.Del(ctx, flagKey).Err(); err != nil {
			s.logger.Warn("engagement flag delete failed",
				"key", flagKey, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
}

// unlock 釋放鎖；失敗時靠 TTL 兜底
func (s *Service) unlock(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := unlockScript.Run(ctx, s.redis, []string{lockKey}, token).Err(); err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("engagement unlock failed, lock will expire by TTL",
				"lock", lockKey, "error", err)
		}
	}
}

// validate 檢查互動參數
//
// view 不是互動：瀏覽數直接走計數服務，沒有 per-user 狀態。
// 收藏只支援圖片（評論沒有收藏數欄位）。
func validate(kind keys.Kind, target keys.TargetKind) error {
	if !target.Valid() {
		return apperr.ErrInvalidCounterKind.WithDetails(fmt.Sprintf("target=%s", target))
	}
	switch kind {
	case keys.KindLike:
		return nil
	case keys.KindFavorite:
		if target != keys.TargetPicture {
			return apperr.ErrInvalidCounterKind.WithDetails("favorite is picture-only")
		}
		return nil
	}
	return apperr.ErrInvalidCounterKind.WithDetails(fmt.Sprintf("kind=%s", kind))
}
