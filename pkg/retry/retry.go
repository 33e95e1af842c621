// Package retry 提供有界重試策略
//
// 設計考量：
//   - 重試策略作為可注入的物件，而非散落在各處的 sleep 迴圈
//   - Sleep 可替換，測試時不需要真實等待
//   - 所有重試都是有界的，不存在無限重試
package retry

import (
	"context"
	"fmt"
	"time"

	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

// Policy 重試策略
type Policy struct {
	// MaxAttempts 最大嘗試次數（含第一次）
	MaxAttempts int

	// Backoff 依嘗試次數回傳等待時間（attempt 從 1 開始）
	Backoff func(attempt int) time.Duration

	// Sleep 等待函數，預設為可取消的 time.Sleep；測試時可注入假實作
	Sleep func(ctx context.Context, d time.Duration) error
}

// FixedBackoff 回傳固定間隔的退避函數
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration {
		return d
	}
}

// Fixed 建立固定退避的重試策略
func Fixed(maxAttempts int, backoff time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     FixedBackoff(backoff),
	}
}

// Default 預設策略：3 次嘗試，每次間隔 2 秒
func Default() Policy {
	return Fixed(3, 2*time.Second)
}

// Do 執行 fn，失敗時依策略重試
//
// 耗盡所有嘗試後回傳 RETRY_EXHAUSTED 錯誤並包裹最後一次失敗原因。
// 上下文取消會立即中止等待並回傳 ctx.Err()。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// 最後一次失敗不再等待
		if attempt == attempts {
			break
		}

		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt)
		}
		if d > 0 {
			if err := sleep(ctx, d); err != nil {
				return err
			}
		}
	}

	return apperr.Wrap(lastErr, apperr.ErrCodeRetryExhausted,
		fmt.Sprintf("gave up after %d attempts", attempts))
}

// sleepContext 可被上下文取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
