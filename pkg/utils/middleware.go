package utils

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader는 요청 ID를 주고받는 헤더입니다.
const RequestIDHeader = "X-Request-ID"

// ErrorHandlerMiddleware는 패닉을 복구하고, 핸들러가 SetError로 남긴 에러를
// 로깅한 뒤 JSON 에러 응답으로 변환합니다.
func ErrorHandlerMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withErrorSlot(r)

		// 패닉 복구
		defer func() {
			if err := recover(); err != nil {
				logger.Error("HTTP handler panic",
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)

		if errCtx := GetErrorContext(r.Context()); errCtx != nil {
			fields := []zap.Field{
				zap.Error(errCtx.Error),
				zap.Int("code", errCtx.Code),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", errCtx.RequestID),
			}
			if errCtx.Code >= http.StatusInternalServerError {
				logger.Error("Request error", fields...)
			} else {
				logger.Debug("Request rejected", fields...)
			}
			WriteError(w, r)
		}
	})
}

// RequestIDMiddleware는 요청 ID를 생성하는 미들웨어입니다.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext는 RequestIDMiddleware가 넣은 요청 ID를 반환합니다.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// GenerateRequestID는 고유한 요청 ID를 생성합니다.
func GenerateRequestID() string {
	return uuid.New().String()
}
