package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

// Auth проверяет bearer-токен приложения по bcrypt-хэшу из AGENT_TOKEN_HASH.
// С пустым хэшем проверка отключена: агент слушает только loopback.
type Auth struct {
	hash []byte
	log  *slog.Logger

	mu       sync.RWMutex
	verified []byte
}

func New(tokenHash string, log *slog.Logger) *Auth {
	return &Auth{
		hash: []byte(tokenHash),
		log:  log.With("component", "auth_middleware"),
	}
}

// Enabled сообщает, задан ли хэш токена.
func (a *Auth) Enabled() bool {
	return len(a.hash) > 0
}

func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !a.Enabled() {
			next(ctx)
			return
		}

		header := ctx.Header("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			a.log.Warn("missing bearer token", "path", ctx.URL().Path)
			a.unauthorized(ctx)
			return
		}

		if !a.check(token) {
			a.log.Warn("invalid bearer token", "path", ctx.URL().Path)
			a.unauthorized(ctx)
			return
		}

		next(ctx)
	}
}

// check сравнивает токен с хэшем. Последний принятый токен запоминается,
// чтобы не вычислять bcrypt на каждый запрос.
func (a *Auth) check(token string) bool {
	a.mu.RLock()
	verified := a.verified
	a.mu.RUnlock()

	if verified != nil && subtle.ConstantTimeCompare(verified, []byte(token)) == 1 {
		return true
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return false
	}

	a.mu.Lock()
	a.verified = []byte(token)
	a.mu.Unlock()
	return true
}

func (a *Auth) unauthorized(ctx huma.Context) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(http.StatusUnauthorized)

	err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{
		"error": "Unauthorized",
	})
	if err != nil {
		a.log.Error("failed to write response", "error", err)
	}
}
