// Package middleware содержит HTTP middleware для сервиса сверки платежей.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/conciliation-system/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным, и cookie перестают действовать после перезапуска.
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

// Middleware проверяет cookie авторизации и добавляет сессию в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		sess, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанной сессии.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, sess model.Session) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(sessionPayload(sess)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func sessionPayload(sess model.Session) string {
	return sess.UserID.String() + ":" + sess.CompanyID.String()
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (model.Session, bool) {
	payload, signature, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return model.Session{}, false
	}

	_, expected, _ := strings.Cut(a.sign(payload), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return model.Session{}, false
	}

	userPart, companyPart, ok := strings.Cut(payload, ":")
	if !ok {
		return model.Session{}, false
	}

	userID, err := uuid.Parse(userPart)
	if err != nil {
		return model.Session{}, false
	}
	companyID, err := uuid.Parse(companyPart)
	if err != nil {
		return model.Session{}, false
	}

	return model.Session{UserID: userID, CompanyID: companyID}, true
}

// WithSession возвращает контекст с сессией пользователя.
func WithSession(ctx context.Context, sess model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// GetSessionFromContext извлекает сессию пользователя из контекста запроса.
func GetSessionFromContext(ctx context.Context) (model.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(model.Session)
	return sess, ok
}
