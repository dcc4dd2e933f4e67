package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"shepherd/internal/logs"
	"shepherd/internal/permission"
)

// Gate: middleware аутентификации и проверки прав для маршрутов mux.
type Gate struct {
	svc *Service
	dev bool
}

func NewGate(svc *Service, dev bool) *Gate { return &Gate{svc: svc, dev: dev} }

// BearerToken достаёт токен из Authorization. "Bearer <t>" предпочтительно,
// голый токен тоже принимается.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	const p = "bearer"
	if len(h) >= len(p) && strings.EqualFold(h[:len(p)], p) {
		rest := h[len(p):]
		if rest == "" {
			return ""
		}
		if rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return h
}

// Authenticate требует валидный access-токен активной учётной записи.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := g.svc.Authenticate(r.Context(), BearerToken(r))
		if err != nil {
			WriteError(w, r, err, g.dev)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), acc)))
	})
}

// Optional: та же проверка, но при любой ошибке запрос идёт дальше анонимным.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		acc, err := g.svc.Authenticate(r.Context(), token)
		if err != nil {
			logs.Logger.WithError(err).Debug("optional auth: continuing anonymously")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), acc)))
	})
}

// RequirePermission пропускает только учётные записи с правом tag (super_admin проходит всегда).
func (g *Gate) RequirePermission(tag permission.Tag) mux.MiddlewareFunc {
	return g.stage(func(r *http.Request) error {
		acc, ok := AccountFromContext(r.Context())
		if !ok {
			return ErrAuthRequired
		}
		if !acc.HasPermission(tag) {
			logs.Logger.WithFields(map[string]any{"account": acc.ID, "permission": tag}).
				Info("permission denied")
			return ErrInsufficientPermissions
		}
		return nil
	})
}

func (g *Gate) RequireSuperAdmin(next http.Handler) http.Handler {
	return g.stage(func(r *http.Request) error {
		acc, ok := AccountFromContext(r.Context())
		if !ok {
			return ErrAuthRequired
		}
		if !acc.IsSuperAdmin() {
			return ErrSuperAdminRequired
		}
		return nil
	})(next)
}

// stage оборачивает проверку прав: паника внутри проверки даёт PERMISSION_CHECK_ERROR.
func (g *Gate) stage(check func(r *http.Request) error) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.safeCheck(check, r); err != nil {
				WriteError(w, r, err, g.dev)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) safeCheck(check func(r *http.Request) error, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newError(CodePermissionCheckError, fmt.Errorf("panic in permission check: %v", rec))
		}
	}()
	return check(r)
}
