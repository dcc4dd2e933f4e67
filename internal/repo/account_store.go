package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shepherd/internal/models"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrStaleToken: условное обновление не нашло ожидаемого значения токена
	// (его уже ротировали, погасили или перезаписали).
	ErrStaleToken = errors.New("stored token changed")
)

// ProfileChanges: поля профиля, которые меняются вместе с гашением токена.
// nil означает "не трогать".
type ProfileChanges struct {
	Name     *string
	Email    *string
	Phone    *string
	Position *string
}

func (c ProfileChanges) columns() map[string]any {
	m := map[string]any{}
	if c.Name != nil {
		m["name"] = *c.Name
	}
	if c.Email != nil {
		m["email"] = models.NormalizeEmail(*c.Email)
	}
	if c.Phone != nil {
		m["phone"] = *c.Phone
	}
	if c.Position != nil {
		m["position"] = *c.Position
	}
	return m
}

// AccountStore: хранилище учётных записей. Ядро авторизации меняет только поля
// сессии, токенов подтверждения, пароля и блокировки.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	EmailTaken(ctx context.Context, email, exceptID string) (bool, error)

	// RecordLogin сохраняет хэш нового refresh-токена, время входа и сбрасывает блокировку.
	RecordLogin(ctx context.Context, id, refreshHash string, at time.Time) error
	RecordLoginFailure(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
	Unlock(ctx context.Context, id string) error
	// RotateRefreshToken меняет oldHash на newHash атомарно; ErrStaleToken, если oldHash уже не актуален.
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error
	ClearRefreshToken(ctx context.Context, id string) error

	SetProfileToken(ctx context.Context, id, hash string, purpose models.TokenPurpose, expiresAt time.Time) error
	SetPasswordToken(ctx context.Context, id, hash string, expiresAt time.Time) error
	// ConsumeProfileToken применяет изменения и очищает слот одним условным обновлением.
	ConsumeProfileToken(ctx context.Context, id, hash string, changes ProfileChanges) error
	// ConsumePasswordToken меняет пароль, очищает слот и refresh-токен.
	ConsumePasswordToken(ctx context.Context, id, hash, passwordHash string) error
	// ResetPassword меняет пароль по ссылке сброса; expectedHash защищает от повторного использования ссылки.
	ResetPassword(ctx context.Context, id, expectedHash, passwordHash string) error

	SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

var _ AccountStore = (*GormAccountStore)(nil)

type GormAccountStore struct{ db *gorm.DB }

func NewAccountStore(db *gorm.DB) *GormAccountStore { return &GormAccountStore{db: db} }

func (s *GormAccountStore) Create(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = models.NormalizeEmail(a.Email)
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *GormAccountStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &a, nil
}

func (s *GormAccountStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &a, nil
}

func (s *GormAccountStore) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ? AND id <> ?", models.NormalizeEmail(email), exceptID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count accounts by email: %w", err)
	}
	return n > 0, nil
}

func (s *GormAccountStore) RecordLogin(ctx context.Context, id, refreshHash string, at time.Time) error {
	return s.updateByID(ctx, id, map[string]any{
		"refresh_token_hash":    refreshHash,
		"last_login_at":         at,
		"failed_login_attempts": 0,
		"locked_until":          nil,
	})
}

func (s *GormAccountStore) RecordLoginFailure(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	return s.updateByID(ctx, id, map[string]any{
		"failed_login_attempts": attempts,
		"locked_until":          lockedUntil,
	})
}

func (s *GormAccountStore) Unlock(ctx context.Context, id string) error {
	return s.updateByID(ctx, id, map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
	})
}

func (s *GormAccountStore) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND refresh_token_hash = ?", id, oldHash).
		Update("refresh_token_hash", newHash)
	if res.Error != nil {
		return fmt.Errorf("rotate refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleToken
	}
	return nil
}

// ClearRefreshToken идемпотентен: отсутствие сессии ошибкой не считается.
func (s *GormAccountStore) ClearRefreshToken(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("refresh_token_hash", nil).Error
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (s *GormAccountStore) SetProfileToken(ctx context.Context, id, hash string, purpose models.TokenPurpose, expiresAt time.Time) error {
	return s.updateByID(ctx, id, map[string]any{
		"profile_token_hash":       hash,
		"profile_token_expires_at": expiresAt,
		"profile_token_purpose":    string(purpose),
	})
}

func (s *GormAccountStore) SetPasswordToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return s.updateByID(ctx, id, map[string]any{
		"password_token_hash":       hash,
		"password_token_expires_at": expiresAt,
	})
}

func (s *GormAccountStore) ConsumeProfileToken(ctx context.Context, id, hash string, changes ProfileChanges) error {
	cols := changes.columns()
	cols["profile_token_hash"] = nil
	cols["profile_token_expires_at"] = nil
	cols["profile_token_purpose"] = nil
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND profile_token_hash = ?", id, hash).
		Updates(cols)
	if res.Error != nil {
		return mapWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleToken
	}
	return nil
}

func (s *GormAccountStore) ConsumePasswordToken(ctx context.Context, id, hash, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND password_token_hash = ?", id, hash).
		Updates(map[string]any{
			"password_hash":             passwordHash,
			"password_token_hash":       nil,
			"password_token_expires_at": nil,
			"refresh_token_hash":        nil,
		})
	if res.Error != nil {
		return fmt.Errorf("consume password token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleToken
	}
	return nil
}

func (s *GormAccountStore) ResetPassword(ctx context.Context, id, expectedHash, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND password_hash = ?", id, expectedHash).
		Updates(map[string]any{
			"password_hash":             passwordHash,
			"refresh_token_hash":        nil,
			"password_token_hash":       nil,
			"password_token_expires_at": nil,
			"profile_token_hash":        nil,
			"profile_token_expires_at":  nil,
			"profile_token_purpose":     nil,
			"failed_login_attempts":     0,
			"locked_until":              nil,
		})
	if res.Error != nil {
		return fmt.Errorf("reset password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleToken
	}
	return nil
}

func (s *GormAccountStore) SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tx := s.db.WithContext(ctx)
	p := tx.Model(&models.Account{}).
		Where("profile_token_expires_at IS NOT NULL AND profile_token_expires_at <= ?", now).
		Updates(map[string]any{
			"profile_token_hash":       nil,
			"profile_token_expires_at": nil,
			"profile_token_purpose":    nil,
		})
	if p.Error != nil {
		return 0, fmt.Errorf("sweep profile tokens: %w", p.Error)
	}
	pw := tx.Model(&models.Account{}).
		Where("password_token_expires_at IS NOT NULL AND password_token_expires_at <= ?", now).
		Updates(map[string]any{
			"password_token_hash":       nil,
			"password_token_expires_at": nil,
		})
	if pw.Error != nil {
		return p.RowsAffected, fmt.Errorf("sweep password tokens: %w", pw.Error)
	}
	return p.RowsAffected + pw.RowsAffected, nil
}

func (s *GormAccountStore) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("locked_until IS NOT NULL AND locked_until <= ?", now).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("release expired locks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormAccountStore) updateByID(ctx context.Context, id string, cols map[string]any) error {
	// RowsAffected не проверяем: MySQL считает только реально изменённые строки
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(cols).Error; err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func mapWriteErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return fmt.Errorf("account write: %w", err)
}
