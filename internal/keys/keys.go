// Package keys 集中管理所有 Redis 鍵的命名
//
// 所有鍵都由這裡的建構函數產生，而非散落各處的字串拼接，
// 避免不同計數器類型之間的鍵碰撞。
package keys

import "fmt"

// namespace 服務的鍵前綴，與其他共用同一 Redis 的服務隔離
const namespace = "gallery:"

// Kind 計數器/互動類型
type Kind string

const (
	// KindView 瀏覽數
	KindView Kind = "view"
	// KindLike 點讚數
	KindLike Kind = "like"
	// KindFavorite 收藏數
	KindFavorite Kind = "favorite"
)

// Valid 檢查計數器類型是否合法
func (k Kind) Valid() bool {
	switch k {
	case KindView, KindLike, KindFavorite:
		return true
	}
	return false
}

// TargetKind 互動目標類型
type TargetKind string

const (
	// TargetPicture 圖片
	TargetPicture TargetKind = "picture"
	// TargetComment 評論
	TargetComment TargetKind = "comment"
)

// Valid 檢查目標類型是否合法
func (t TargetKind) Valid() bool {
	switch t {
	case TargetPicture, TargetComment:
		return true
	}
	return false
}

// Counter 計數器鍵，例如 gallery:count:view:picture:42
func Counter(kind Kind, target TargetKind, targetID int64) string {
	return fmt.Sprintf("%scount:%s:%s:%d", namespace, kind, target, targetID)
}

// EngagedFlag 互動標記鍵：此使用者目前對此目標有活躍的點讚/收藏
func EngagedFlag(userID int64, kind Kind, target TargetKind, targetID int64) string {
	return fmt.Sprintf("%sengaged:%s:%s:%d:user:%d", namespace, kind, target, targetID, userID)
}

// Lock 分散式鎖鍵，保護對應鍵上的 read-check-write 序列
func Lock(key string) string {
	return "lock:" + key
}

// ListPage 分頁查詢結果鍵，digest 為查詢參數的雜湊
func ListPage(digest string) string {
	return ListPrefix() + digest
}

// ListPrefix 分頁查詢結果的鍵前綴，刷新時以此批次刪除
func ListPrefix() string {
	return namespace + "list:"
}
