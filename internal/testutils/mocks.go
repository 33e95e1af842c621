package testutils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/store"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

// MockStore 實作 store.Store 介面的 mock
type MockStore struct {
	mu          sync.RWMutex
	pictures    map[int64]*store.Picture
	comments    map[int64]int64 // comment ID -> like count
	engagements map[string]struct{}

	// 記錄呼叫次數
	GetPictureCalls   atomic.Int32
	ListCalls         atomic.Int32
	AddCalls          atomic.Int32
	CounterValueCalls atomic.Int32
	InsertCalls       atomic.Int32
	DeleteCalls       atomic.Int32
	HasCalls          atomic.Int32

	// 錯誤注入
	ShouldFailNext bool
	FailAll        bool
	FailError      error
}

// NewMockStore 創建新的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		pictures:    make(map[int64]*store.Picture),
		comments:    make(map[int64]int64),
		engagements: make(map[string]struct{}),
	}
}

// AddPicture 直接放入圖片（測試用）
func (m *MockStore) AddPicture(p store.Picture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.pictures[p.ID] = &cp
}

// AddComment 直接放入評論（測試用）
func (m *MockStore) AddComment(id, likeCount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[id] = likeCount
}

func (m *MockStore) failNext() error {
	if m.FailAll {
		return m.failErr()
	}
	if m.ShouldFailNext {
		m.ShouldFailNext = false
		return m.failErr()
	}
	return nil
}

func (m *MockStore) failErr() error {
	if m.FailError != nil {
		return m.FailError
	}
	return apperr.ErrDatabaseUnavailable
}

// GetPicture 實作 store.Store
func (m *MockStore) GetPicture(ctx context.Context, id int64) (*store.Picture, error) {
	m.GetPictureCalls.Add(1)

	if err := m.failNext(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pictures[id]
	if !ok {
		return nil, apperr.ErrPictureNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPictures 實作 store.Store
func (m *MockStore) ListPictures(ctx context.Context, q store.ListQuery) ([]store.Picture, int64, error) {
	m.ListCalls.Add(1)

	if err := m.failNext(); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []store.Picture
	for _, p := range m.pictures {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if q.Search != "" &&
			!strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Search)) &&
			!strings.Contains(strings.ToLower(p.Introduction), strings.ToLower(q.Search)) {
			continue
		}
		matched = append(matched, *p)
	}

	// 與真實實作相同的排序：新的在前
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	offset := (q.PageNum - 1) * q.PageSize
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// AddToCounter 實作 store.Store
func (m *MockStore) AddToCounter(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64, delta int64) error {
	m.AddCalls.Add(1)

	if err := m.failNext(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch target {
	case keys.TargetPicture:
		p, ok := m.pictures[targetID]
		if !ok {
			return apperr.ErrPictureNotFound
		}
		switch kind {
		case keys.KindView:
			p.ViewCount = clamp(p.ViewCount + delta)
		case keys.KindLike:
			p.LikeCount = clamp(p.LikeCount + delta)
		case keys.KindFavorite:
			p.FavoriteCount = clamp(p.FavoriteCount + delta)
		default:
			return apperr.ErrInvalidCounterKind
		}
		return nil

	case keys.TargetComment:
		if kind != keys.KindLike {
			return apperr.ErrInvalidCounterKind
		}
		v, ok := m.comments[targetID]
		if !ok {
			return apperr.New(apperr.ErrCodeNotFound, "comment not found")
		}
		m.comments[targetID] = clamp(v + delta)
		return nil
	}
	return apperr.ErrInvalidCounterKind
}

// CounterValue 實作 store.Store
func (m *MockStore) CounterValue(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64) (int64, error) {
	m.CounterValueCalls.Add(1)

	if err := m.failNext(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch target {
	case keys.TargetPicture:
		p, ok := m.pictures[targetID]
		if !ok {
			return 0, apperr.ErrPictureNotFound
		}
		switch kind {
		case keys.KindView:
			return p.ViewCount, nil
		case keys.KindLike:
			return p.LikeCount, nil
		case keys.KindFavorite:
			return p.FavoriteCount, nil
		}
		return 0, apperr.ErrInvalidCounterKind

	case keys.TargetComment:
		if kind != keys.KindLike {
			return 0, apperr.ErrInvalidCounterKind
		}
		v, ok := m.comments[targetID]
		if !ok {
			return 0, apperr.New(apperr.ErrCodeNotFound, "comment not found")
		}
		return v, nil
	}
	return 0, apperr.ErrInvalidCounterKind
}

// InsertEngagement 實作 store.Store
func (m *MockStore) InsertEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	m.InsertCalls.Add(1)

	if err := m.failNext(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := engagementKey(userID, kind, target, targetID)
	if _, exists := m.engagements[key]; exists {
		return false, nil
	}
	m.engagements[key] = struct{}{}
	return true, nil
}

// DeleteEngagement 實作 store.Store
func (m *MockStore) DeleteEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	m.DeleteCalls.Add(1)

	if err := m.failNext(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := engagementKey(userID, kind, target, targetID)
	if _, exists := m.engagements[key]; !exists {
		return false, nil
	}
	delete(m.engagements, key)
	return true, nil
}

// HasEngagement 實作 store.Store
func (m *MockStore) HasEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	m.HasCalls.Add(1)

	if err := m.failNext(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.engagements[engagementKey(userID, kind, target, targetID)]
	return exists, nil
}

// PictureCounts 直接讀取圖片計數（測試用）
func (m *MockStore) PictureCounts(id int64) (view, like, favorite int64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.pictures[id]
	if !exists {
		return 0, 0, 0, false
	}
	return p.ViewCount, p.LikeCount, p.FavoriteCount, true
}

// EngagementCount 目前活躍的互動記錄數（測試用）
func (m *MockStore) EngagementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engagements)
}

func engagementKey(userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) string {
	return fmt.Sprintf("%d/%s/%s/%d", userID, kind, target, targetID)
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
