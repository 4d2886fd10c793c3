// Package middleware содержит HTTP middleware сервиса магазина.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vkuznetsov/shopledger/internal/model"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	userRoleKey contextKey = "userRole"
)

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
// В значении cookie хранятся идентификатор и роль пользователя с подписью HMAC-SHA256.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный: выданные ранее cookie перестают
// действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет идентификатор и роль
// пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, role, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, userRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает запрос только для пользователей с ролью ADMIN.
// Должен стоять после Middleware.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := GetUserRoleFromContext(r.Context())
		if !ok || role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, role model.Role) {
	value := a.signToken(strconv.FormatInt(userID, 10), string(role))

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) signToken(idStr, role string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr + "." + role))
	signature := mac.Sum(nil)
	return idStr + "." + role + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (int64, model.Role, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 3 {
		return 0, "", false
	}

	idStr := parts[0]
	role := parts[1]
	signature := parts[2]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr + "." + role))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return 0, "", false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}

	if role != string(model.RoleUser) && role != string(model.RoleAdmin) {
		return 0, "", false
	}

	return id, model.Role(role), true
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// GetUserRoleFromContext извлекает роль пользователя из контекста запроса.
func GetUserRoleFromContext(ctx context.Context) (model.Role, bool) {
	role, ok := ctx.Value(userRoleKey).(model.Role)
	return role, ok
}
