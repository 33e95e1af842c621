// Package store 實作持久層（PostgreSQL）
//
// 持久層是計數的最終真相來源：
//   - 計數欄位透過原子 UPDATE 調整，不做讀取-修改-寫回
//   - 互動記錄以複合主鍵保證每個 (user, target, kind) 至多一筆
package store

import (
	"context"
	"time"

	"github.com/koopa0/gallery-engagement/internal/keys"
)

// Picture 圖片實體
type Picture struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Introduction  string    `json:"introduction"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	UserID        int64     `json:"user_id"`
	ViewCount     int64     `json:"view_count"`
	LikeCount     int64     `json:"like_count"`
	FavoriteCount int64     `json:"favorite_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// PictureView 對外的圖片視圖，只含已脫敏的欄位
type PictureView struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	Introduction  string   `json:"introduction,omitempty"`
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ViewCount     int64    `json:"view_count"`
	LikeCount     int64    `json:"like_count"`
	FavoriteCount int64    `json:"favorite_count"`
}

// View 轉換為對外視圖
func (p *Picture) View() PictureView {
	return PictureView{
		ID:            p.ID,
		Name:          p.Name,
		URL:           p.URL,
		Introduction:  p.Introduction,
		Category:      p.Category,
		Tags:          p.Tags,
		ViewCount:     p.ViewCount,
		LikeCount:     p.LikeCount,
		FavoriteCount: p.FavoriteCount,
	}
}

// ListQuery 分頁查詢參數
type ListQuery struct {
	Category string `json:"category,omitempty"`
	Search   string `json:"search,omitempty"`
	PageNum  int    `json:"page_num"`
	PageSize int    `json:"page_size"`
}

// Page 一頁查詢結果與分頁中繼資料
type Page struct {
	Records  []PictureView `json:"records"`
	PageNum  int           `json:"page_num"`
	PageSize int           `json:"page_size"`
	Total    int64         `json:"total"`
}

// Store 持久層介面
//
// counter 與 engagement 服務只依賴這個介面，單元測試以 mock 替換。
type Store interface {
	// GetPicture 依 ID 讀取圖片，不存在時回傳 NOT_FOUND 錯誤
	GetPicture(ctx context.Context, id int64) (*Picture, error)

	// ListPictures 分頁查詢，回傳當頁資料與符合條件的總筆數
	ListPictures(ctx context.Context, q ListQuery) ([]Picture, int64, error)

	// AddToCounter 原子調整計數欄位（col = GREATEST(col + delta, 0)）
	AddToCounter(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64, delta int64) error

	// CounterValue 讀取計數欄位的權威值
	CounterValue(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64) (int64, error)

	// InsertEngagement 寫入互動記錄；已存在時回傳 false（冪等）
	InsertEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error)

	// DeleteEngagement 刪除互動記錄；不存在時回傳 false（冪等）
	DeleteEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error)

	// HasEngagement 查詢互動記錄是否存在
	HasEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error)
}
