package auth

import (
	"context"

	"shepherd/internal/models"
)

type accountContextKey struct{}

// ContextWithAccount прикрепляет аутентифицированную учётную запись к контексту запроса.
func ContextWithAccount(ctx context.Context, a *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, a)
}

// AccountFromContext возвращает учётную запись, положенную Gate.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(accountContextKey{}).(*models.Account)
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}
