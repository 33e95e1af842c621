package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/gallery-engagement/internal/keys"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

// Postgres 以 pgxpool 實作 Store
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres 建立 PostgreSQL 持久層
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger,
	}
}

// counterColumn 將 (kind, target) 映射到計數欄位所在的表與欄位
//
// 合法組合：圖片有 view/like/favorite 三個計數，評論只有 like。
func counterColumn(kind keys.Kind, target keys.TargetKind) (table, column string, err error) {
	switch target {
	case keys.TargetPicture:
		switch kind {
		case keys.KindView:
			return "pictures", "view_count", nil
		case keys.KindLike:
			return "pictures", "like_count", nil
		case keys.KindFavorite:
			return "pictures", "favorite_count", nil
		}
	case keys.TargetComment:
		if kind == keys.KindLike {
			return "comments", "like_count", nil
		}
	}
	return "", "", apperr.ErrInvalidCounterKind.WithDetails(
		fmt.Sprintf("kind=%s target=%s", kind, target))
}

// GetPicture 依 ID 讀取圖片
func (p *Postgres) GetPicture(ctx context.Context, id int64) (*Picture, error) {
	const query = `
		SELECT id, name, url, introduction, category, tags,
		       user_id, view_count, like_count, favorite_count, created_at
		FROM pictures
		WHERE id = $1`

	var pic Picture
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&pic.ID, &pic.Name, &pic.URL, &pic.Introduction, &pic.Category, &pic.Tags,
		&pic.UserID, &pic.ViewCount, &pic.LikeCount, &pic.FavoriteCount, &pic.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrPictureNotFound.WithDetails(fmt.Sprintf("id=%d", id))
		}
		return nil, fmt.Errorf("get picture %d: %w", id, err)
	}

	return &pic, nil
}

// ListPictures 分頁查詢圖片
func (p *Postgres) ListPictures(ctx context.Context, q ListQuery) ([]Picture, int64, error) {
	const countQuery = `
		SELECT count(*)
		FROM pictures
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR introduction ILIKE '%' || $2 || '%')`

	var total int64
	if err := p.pool.QueryRow(ctx, countQuery, q.Category, q.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pictures: %w", err)
	}

	const listQuery = `
		SELECT id, name, url, introduction, category, tags,
		       user_id, view_count, like_count, favorite_count, created_at
		FROM pictures
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR introduction ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	offset := (q.PageNum - 1) * q.PageSize
	rows, err := p.pool.Query(ctx, listQuery, q.Category, q.Search, q.PageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pictures: %w", err)
	}
	defer rows.Close()

	var pictures []Picture
	for rows.Next() {
		var pic Picture
		if err := rows.Scan(
			&pic.ID, &pic.Name, &pic.URL, &pic.Introduction, &pic.Category, &pic.Tags,
			&pic.UserID, &pic.ViewCount, &pic.LikeCount, &pic.FavoriteCount, &pic.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan picture: %w", err)
		}
		pictures = append(pictures, pic)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list pictures: %w", err)
	}

	return pictures, total, nil
}

// AddToCounter 原子調整計數欄位
//
// GREATEST 保證欄位永不為負；delta 的套用順序無關（可交換）。
func (p *Postgres) AddToCounter(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64, delta int64) error {
	table, column, err := counterColumn(kind, target)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s = GREATEST(%s + $1, 0) WHERE id = $2",
		table, column, column)

	tag, err := p.pool.Exec(ctx, query, delta, targetID)
	if err != nil {
		p.logger.Error("counter update failed",
			"kind", kind,
			"target", target,
			"target_id", targetID,
			"delta", delta,
			"error", err)
		return fmt.Errorf("update %s.%s: %w", table, column, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrPictureNotFound.WithDetails(
			fmt.Sprintf("%s id=%d", target, targetID))
	}

	return nil
}

// CounterValue 讀取計數欄位的權威值
func (p *Postgres) CounterValue(ctx context.Context, kind keys.Kind, target keys.TargetKind, targetID int64) (int64, error) {
	table, column, err := counterColumn(kind, target)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", column, table)

	var value int64
	if err := p.pool.QueryRow(ctx, query, targetID).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.ErrPictureNotFound.WithDetails(
				fmt.Sprintf("%s id=%d", target, targetID))
		}
		return 0, fmt.Errorf("read %s.%s: %w", table, column, err)
	}

	return value, nil
}

// InsertEngagement 寫入互動記錄
//
// 複合主鍵上的 ON CONFLICT DO NOTHING 是冪等性的底線：
// 即使兩個請求同時走到這裡，也只有一個會真正插入。
func (p *Postgres) InsertEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	const query = `
		INSERT INTO engagements (user_id, kind, target_kind, target_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`

	tag, err := p.pool.Exec(ctx, query, userID, string(kind), string(target), targetID)
	if err != nil {
		return false, fmt.Errorf("insert engagement: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteEngagement 刪除互動記錄
func (p *Postgres) DeleteEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	const query = `
		DELETE FROM engagements
		WHERE user_id = $1 AND kind = $2 AND target_kind = $3 AND target_id = $4`

	tag, err := p.pool.Exec(ctx, query, userID, string(kind), string(target), targetID)
	if err != nil {
		return false, fmt.Errorf("delete engagement: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// HasEngagement 查詢互動記錄是否存在
func (p *Postgres) HasEngagement(ctx context.Context, userID int64, kind keys.Kind, target keys.TargetKind, targetID int64) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM engagements
			WHERE user_id = $1 AND kind = $2 AND target_kind = $3 AND target_id = $4
		)`

	var exists bool
	if err := p.pool.QueryRow(ctx, query, userID, string(kind), string(target), targetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("find engagement: %w", err)
	}

	return exists, nil
}
