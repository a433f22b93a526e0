package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// 컨텍스트 키 타입 정의
type contextKey string

const (
	// ErrorContextKey는 요청별 에러 보관소의 컨텍스트 키입니다.
	ErrorContextKey contextKey = "error"
	// RequestIDContextKey는 요청 ID의 컨텍스트 키입니다.
	RequestIDContextKey contextKey = "request_id"
)

// ErrorContext는 에러 정보를 저장하는 구조체
type ErrorContext struct {
	Error     error
	Message   string
	Code      int
	RequestID string
	Path      string
	Method    string
}

// errorSlot은 미들웨어가 요청 시작 시 컨텍스트에 넣어두는 보관소입니다.
// 핸들러는 요청을 복사하지 않고 여기에 에러를 기록합니다.
type errorSlot struct {
	mutex sync.Mutex
	ctx   *ErrorContext
}

// withErrorSlot은 에러 보관소가 들어있는 요청을 반환합니다.
func withErrorSlot(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(ErrorContextKey).(*errorSlot); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), ErrorContextKey, &errorSlot{}))
}

// SetError는 요청에 에러와 상태 코드를 기록합니다.
// ErrorHandlerMiddleware 아래에서만 응답으로 전달됩니다.
func SetError(r *http.Request, err error, code int) {
	SetErrorWithMessage(r, err, code, err.Error())
}

// SetErrorWithMessage는 클라이언트에 보여줄 메시지를 따로 지정합니다.
func SetErrorWithMessage(r *http.Request, err error, code int, message string) {
	slot, ok := r.Context().Value(ErrorContextKey).(*errorSlot)
	if !ok {
		return
	}

	slot.mutex.Lock()
	defer slot.mutex.Unlock()
	slot.ctx = &ErrorContext{
		Error:     err,
		Message:   message,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
		Path:      r.URL.Path,
		Method:    r.Method,
	}
}

// GetErrorContext는 컨텍스트에서 에러 정보를 가져옵니다.
func GetErrorContext(ctx context.Context) *ErrorContext {
	if ctx == nil {
		return nil
	}

	slot, ok := ctx.Value(ErrorContextKey).(*errorSlot)
	if !ok {
		return nil
	}
	slot.mutex.Lock()
	defer slot.mutex.Unlock()
	return slot.ctx
}

// HasError는 컨텍스트에 에러가 있는지 확인합니다.
func HasError(ctx context.Context) bool {
	return GetErrorContext(ctx) != nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError는 에러 응답을 클라이언트에 전송합니다.
func WriteError(w http.ResponseWriter, r *http.Request) {
	errCtx := GetErrorContext(r.Context())
	if errCtx == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errCtx.Code)
	json.NewEncoder(w).Encode(errorResponse{
		Error:     errCtx.Message,
		Code:      errCtx.Code,
		Path:      errCtx.Path,
		Method:    errCtx.Method,
		RequestID: errCtx.RequestID,
	})
}
