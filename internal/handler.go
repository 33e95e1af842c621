package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/gallery-engagement/internal/counter"
	"github.com/koopa0/gallery-engagement/internal/engagement"
	"github.com/koopa0/gallery-engagement/internal/keys"
	"github.com/koopa0/gallery-engagement/internal/querycache"
	"github.com/koopa0/gallery-engagement/internal/store"
	apperr "github.com/koopa0/gallery-engagement/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	pages      *querycache.Cache
	counters   *counter.Service
	engagement *engagement.Service
	db         store.Store
	redis      *redis.Client
	pg         *pgxpool.Pool
	logger     *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(pages *querycache.Cache, counters *counter.Service, eng *engagement.Service, db store.Store, rdb *redis.Client, pg *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{
		pages:      pages,
		counters:   counters,
		engagement: eng,
		db:         db,
		redis:      rdb,
		pg:         pg,
		logger:     logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// API 路由
	mux.HandleFunc("GET /api/v1/pictures", wrap(h.listPictures))
	mux.HandleFunc("GET /api/v1/pictures/{id}", wrap(h.getPicture))
	mux.HandleFunc("POST /api/v1/pictures/{id}/view", wrap(h.addView))
	mux.HandleFunc("GET /api/v1/pictures/{id}/counts", wrap(h.getCounts))
	mux.HandleFunc("POST /api/v1/pictures/{id}/like", wrap(h.toggle(keys.KindLike, keys.TargetPicture, true)))
	mux.HandleFunc("DELETE /api/v1/pictures/{id}/like", wrap(h.toggle(keys.KindLike, keys.TargetPicture, false)))
	mux.HandleFunc("POST /api/v1/pictures/{id}/favorite", wrap(h.toggle(keys.KindFavorite, keys.TargetPicture, true)))
	mux.HandleFunc("DELETE /api/v1/pictures/{id}/favorite", wrap(h.toggle(keys.KindFavorite, keys.TargetPicture, false)))
	mux.HandleFunc("POST /api/v1/comments/{id}/like", wrap(h.toggle(keys.KindLike, keys.TargetComment, true)))
	mux.HandleFunc("DELETE /api/v1/comments/{id}/like", wrap(h.toggle(keys.KindLike, keys.TargetComment, false)))
	mux.HandleFunc("POST /api/v1/cache/refresh", wrap(h.refreshCache))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

// 請求和響應結構
type toggleRequest struct {
	UserID int64 `json:"user_id"`
}

type toggleResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type countsResponse struct {
	PictureID     int64 `json:"picture_id"`
	ViewCount     int64 `json:"view_count"`
	LikeCount     int64 `json:"like_count"`
	FavoriteCount int64 `json:"favorite_count"`
}

type refreshRequest struct {
	Scope string `json:"scope,omitempty"`
}

type refreshResponse struct {
	Success bool `json:"success"`
}

// listPictures 分頁查詢圖片列表
func (h *Handler) listPictures(w http.ResponseWriter, r *http.Request) {
	q := store.ListQuery{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
	}
	q.PageNum, _ = strconv.Atoi(r.URL.Query().Get("page_num"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	page, err := h.pages.GetPage(r.Context(), q)
	if err != nil {
		if apperr.IsInvalidInput(err) {
			h.respondError(w, err, http.StatusBadRequest)
			return
		}
		h.logger.Error("list pictures failed", "error", err)
		h.respondError(w, err, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, page)
}

// getPicture 讀取單張圖片詳情
//
// 計數欄位以計數服務的值覆蓋資料庫快照，讀到的是最新值。
func (h *Handler) getPicture(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondError(w, err, http.StatusBadRequest)
		return
	}

	pic, err := h.db.GetPicture(r.Context(), id)
	if err != nil {
		if apperr.IsNotFound(err) {
			h.respondError(w, err, http.StatusNotFound)
			return
		}
		h.logger.Error("get picture failed", "picture_id", id, "error", err)
		h.respondError(w, err, http.StatusInternalServerError)
		return
	}

	view := pic.View()
	if counts, err := h.counters.Counts(r.Context(), id); err == nil {
		view.ViewCount = counts[keys.KindView]
		view.LikeCount = counts[keys.KindLike]
		view.FavoriteCount = counts[keys.KindFavorite]
	} else {
		h.logger.Warn("live counts unavailable, serving snapshot",
			"picture_id", id, "error", err)
	}

	h.respondJSON(w, view)
}

// addView 瀏覽數遞增
//
// 瀏覽不是切換型互動，沒有 per-user 狀態，直接走計數器。
func (h *Handler) addView(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondError(w, err, http.StatusBadRequest)
		return
	}

	if err := h.counters.Add(r.Context(), keys.KindView, keys.TargetPicture, id, 1); err != nil {
		if apperr.IsNotFound(err) {
			h.respondError(w, err, http.StatusNotFound)
			return
		}
		h.logger.Error("add view failed", "picture_id", id, "error", err)
		h.respondError(w, err, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, toggleResponse{Success: true})
}

// getCounts 獲取單張圖片的三種計數
func (h *Handler) getCounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondError(w, err, http.StatusBadRequest)
		return
	}

	counts, err := h.counters.Counts(r.Context(), id)
	if err != nil {
		h.logger.Error("get counts failed", "picture_id", id, "error", err)
		h.respondError(w, err, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, countsResponse{
		PictureID:     id,
		ViewCount:     counts[keys.KindView],
		LikeCount:     counts[keys.KindLike],
		FavoriteCount: counts[keys.KindFavorite],
	})
}

// toggle 生成點讚/收藏的切換處理函數
func (h *Handler) toggle(kind keys.Kind, target keys.TargetKind, engage bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.respondError(w, err, http.StatusBadRequest)
			return
		}

		var req toggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"), http.StatusBadRequest)
			return
		}
		if req.UserID <= 0 {
			h.respondError(w, apperr.New(apperr.ErrCodeInvalidInput, "user_id required"), http.StatusBadRequest)
			return
		}

		if err := h.engagement.Toggle(r.Context(), req.UserID, kind, target, id, engage); err != nil {
			switch {
			case apperr.IsBusiness(err):
				// 重複操作：冪等拒絕，不算伺服器錯誤
				h.respondError(w, err, http.StatusConflict)
			case apperr.IsNotFound(err):
				h.respondError(w, err, http.StatusNotFound)
			case apperr.IsInvalidInput(err):
				h.respondError(w, err, http.StatusBadRequest)
			default:
				h.logger.Error("toggle failed",
					"kind", kind, "target", target, "target_id", id,
					"user_id", req.UserID, "engage", engage, "error", err)
				h.respondError(w, err, http.StatusInternalServerError)
			}
			return
		}

		h.respondJSON(w, toggleResponse{Success: true})
	}
}

// refreshCache 主動刷新分頁查詢快取
//
// 上傳、刪除、審核等寫入路徑完成後呼叫，讓列表立刻反映變更，
// 不必等 TTL 過期。
func (h *Handler) refreshCache(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"), http.StatusBadRequest)
			return
		}
	}

	if !h.pages.Refresh(r.Context(), req.Scope) {
		h.respondError(w, apperr.ErrRedisUnavailable, http.StatusServiceUnavailable)
		return
	}

	h.respondJSON(w, refreshResponse{Success: true})
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	// 檢查 Redis 和 PostgreSQL 連線
	ctx := r.Context()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		h.respondError(w, apperr.ErrRedisUnavailable, http.StatusServiceUnavailable)
		return
	}

	if err := h.pg.Ping(ctx); err != nil {
		h.respondError(w, apperr.ErrDatabaseUnavailable, http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// pathID 解析路徑中的目標 ID
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.ErrCodeInvalidInput, "invalid id")
	}
	return id, nil
}

// 中間件
// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered", "error", err)
				h.respondError(w, apperr.New(apperr.ErrCodeInternal, "internal server error"), http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error, status int) {
	resp := toggleResponse{Success: false, Error: err.Error()}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
