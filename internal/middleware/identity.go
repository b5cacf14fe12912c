package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userNameKey contextKey = "user_name"
)

// Identity извлекает пользователя из заголовков X-User-Id / X-User-Name.
// Аутентификацию выполняет фронтовый слой (NextAuth-сессия за прокси);
// этот сервис доверяет заголовкам и только кладёт их в контекст.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
			ctx = context.WithValue(ctx, userIDKey, id)
		}
		if name := strings.TrimSpace(r.Header.Get("X-User-Name")); name != "" {
			ctx = context.WithValue(ctx, userNameKey, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser отклоняет запросы без X-User-Id (401).
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID возвращает id пользователя из контекста ("" если нет).
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// GetUserName возвращает отображаемое имя пользователя из контекста ("" если нет).
func GetUserName(ctx context.Context) string {
	name, _ := ctx.Value(userNameKey).(string)
	return name
}
