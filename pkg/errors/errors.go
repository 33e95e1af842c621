// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeAlreadyEngaged 使用者已點讚/收藏
	ErrCodeAlreadyEngaged = "ALREADY_ENGAGED"
	// ErrCodeNotEngaged 使用者未點讚/收藏
	ErrCodeNotEngaged = "NOT_ENGAGED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeRetryExhausted 重試次數已耗盡
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	// ErrCodeDegraded 降級模式
	ErrCodeDegraded = "SERVICE_DEGRADED"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼判斷相等
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶詳細資訊的副本，預定義錯誤本身不被修改
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
var (
	// ErrPictureNotFound 圖片未找到
	ErrPictureNotFound = New(ErrCodeNotFound, "picture not found")

	// ErrAlreadyEngaged 重複點讚/收藏（業務錯誤，不重試）
	ErrAlreadyEngaged = New(ErrCodeAlreadyEngaged, "user already engaged with target")

	// ErrNotEngaged 取消一個不存在的點讚/收藏（業務錯誤，不重試）
	ErrNotEngaged = New(ErrCodeNotEngaged, "user has no active engagement with target")

	// ErrInvalidCounterKind 無效的計數器類型
	ErrInvalidCounterKind = New(ErrCodeInvalidInput, "invalid counter kind")

	// ErrInvalidQuery 無效的分頁查詢參數
	ErrInvalidQuery = New(ErrCodeInvalidInput, "invalid page query")

	// ErrRetryExhausted 重試耗盡後的致命錯誤
	ErrRetryExhausted = New(ErrCodeRetryExhausted, "retries exhausted")

	// ErrRedisUnavailable Redis 不可用
	ErrRedisUnavailable = New(ErrCodeUnavailable, "redis service unavailable")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsAlreadyEngaged 檢查是否為重複點讚/收藏錯誤
func IsAlreadyEngaged(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAlreadyEngaged
	}
	return false
}

// IsNotEngaged 檢查是否為未點讚/收藏錯誤
func IsNotEngaged(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotEngaged
	}
	return false
}

// IsBusiness 檢查是否為業務錯誤（直接回傳呼叫端，不觸發重試）
func IsBusiness(err error) bool {
	return IsAlreadyEngaged(err) || IsNotEngaged(err)
}

// IsRetryExhausted 檢查是否為重試耗盡錯誤
func IsRetryExhausted(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRetryExhausted
	}
	return false
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidInput
	}
	return false
}
