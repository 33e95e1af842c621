package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/gallery-engagement/internal/store"
	"github.com/koopa0/gallery-engagement/pkg/retry"
)

// FastRetry 測試用重試策略：不真正等待
func FastRetry(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     retry.FixedBackoff(time.Millisecond),
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	}
}

// SamplePicture 生成一張測試圖片
func SamplePicture(id int64) store.Picture {
	return store.Picture{
		ID:           id,
		Name:         fmt.Sprintf("picture-%d", id),
		URL:          fmt.Sprintf("https://img.example.com/%d.jpg", id),
		Introduction: fmt.Sprintf("introduction for picture %d", id),
		Category:     "landscape",
		Tags:         []string{"test"},
		UserID:       1,
		CreatedAt:    time.Unix(1700000000+id, 0).UTC(),
	}
}

// SeedPictures 在 PostgreSQL 中寫入 n 張測試圖片並回傳其 ID
func (env *TestEnvironment) SeedPictures(t testing.TB, n int) []int64 {
	t.Helper()

	ctx := context.Background()
	ids := make([]int64, 0, n)

	for i := 0; i < n; i++ {
		p := SamplePicture(int64(i + 1))
		tags, err := json.Marshal(p.Tags)
		require.NoError(t, err)

		var id int64
		err = env.PostgresPool.QueryRow(ctx, `
			INSERT INTO pictures (name, url, introduction, category, tags, user_id, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
			RETURNING id`,
			p.Name, p.URL, p.Introduction, p.Category, string(tags), p.UserID, p.CreatedAt,
		).Scan(&id)
		require.NoError(t, err, "failed to seed picture")
		ids = append(ids, id)
	}

	return ids
}

// SeedComment 在 PostgreSQL 中寫入一則測試評論並回傳其 ID
func (env *TestEnvironment) SeedComment(t testing.TB, pictureID int64) int64 {
	t.Helper()

	ctx := context.Background()
	var id int64
	err := env.PostgresPool.QueryRow(ctx, `
		INSERT INTO comments (picture_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id`,
		pictureID, int64(1), "test comment",
	).Scan(&id)
	require.NoError(t, err, "failed to seed comment")

	return id
}

// MakeHTTPRequest 執行 HTTP 請求的輔助函數
func MakeHTTPRequest(t testing.TB, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			bodyReader = strings.NewReader(str)
		} else {
			jsonBytes, err := json.Marshal(body)
			require.NoError(t, err)
			bodyReader = strings.NewReader(string(jsonBytes))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// WaitForCondition 等待條件滿足
func WaitForCondition(t testing.TB, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// RunConcurrently 並發執行測試函數
func RunConcurrently(t testing.TB, concurrency int, iterations int, fn func(workerID, iteration int)) {
	t.Helper()

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		workerID := i
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < iterations; j++ {
				fn(workerID, j)
			}
		}()
	}

	// 等待所有 goroutine 完成
	for i := 0; i < concurrency; i++ {
		<-done
	}
}
