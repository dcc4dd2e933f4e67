package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shepherd/internal/logs"
	"shepherd/internal/permission"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
)

// TokenPurpose: назначение токена в слоте профиля.
type TokenPurpose string

const (
	PurposeEmail   TokenPurpose = "email"
	PurposeProfile TokenPurpose = "profile"
)

func (p TokenPurpose) Valid() bool { return p == PurposeEmail || p == PurposeProfile }

// Account: учётная запись администратора. Все секреты и токены хранятся только как
// хэши и никогда не сериализуются наружу (см. View).
type Account struct {
	ID        string         `gorm:"primaryKey;size:36" json:"-"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email       string                      `gorm:"uniqueIndex;size:255;not null" json:"-"`
	Name        string                      `gorm:"size:255" json:"-"`
	Phone       string                      `gorm:"size:64" json:"-"`
	Position    string                      `gorm:"size:255" json:"-"`
	Role        Role                        `gorm:"size:32;not null" json:"-"`
	Permissions datatypes.JSONSlice[string] `json:"-"`
	IsActive    bool                        `gorm:"not null" json:"-"`

	PasswordHash string `gorm:"size:255;not null" json:"-"`

	// сессия: не больше одного живого refresh-токена
	RefreshTokenHash *string    `gorm:"size:64" json:"-"`
	LastLoginAt      *time.Time `json:"-"`

	// слот подтверждения изменения профиля/email
	ProfileTokenHash      *string       `gorm:"size:64" json:"-"`
	ProfileTokenExpiresAt *time.Time    `gorm:"index" json:"-"`
	ProfileTokenPurpose   *TokenPurpose `gorm:"size:16" json:"-"`

	// слот подтверждения смены пароля
	PasswordTokenHash      *string    `gorm:"size:64" json:"-"`
	PasswordTokenExpiresAt *time.Time `gorm:"index" json:"-"`

	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockedUntil         *time.Time `gorm:"index" json:"-"`
}

func (a *Account) IsSuperAdmin() bool { return a != nil && a.Role == RoleSuperAdmin }

// HasPermission: super_admin владеет всеми правами, сохранённый список для него не читается.
func (a *Account) HasPermission(p permission.Tag) bool {
	if a == nil {
		return false
	}
	if a.IsSuperAdmin() {
		return true
	}
	for _, raw := range a.Permissions {
		if t, ok := permission.Parse(raw); ok && t == p {
			return true
		}
	}
	return false
}

// EffectivePermissions возвращает права с учётом роли.
func (a *Account) EffectivePermissions() []permission.Tag {
	if a.IsSuperAdmin() {
		return permission.All()
	}
	known, unknown := permission.ParseAll(a.Permissions)
	if len(unknown) > 0 {
		logs.Logger.WithField("account", a.ID).WithField("unknown", unknown).
			Warn("account has unknown permission tags, ignoring them")
	}
	return known
}

func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Clone делает глубокую копию (указатели и срезы не разделяются).
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Permissions != nil {
		c.Permissions = append(datatypes.JSONSlice[string]{}, a.Permissions...)
	}
	c.RefreshTokenHash = cloneString(a.RefreshTokenHash)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	c.ProfileTokenHash = cloneString(a.ProfileTokenHash)
	c.ProfileTokenExpiresAt = cloneTime(a.ProfileTokenExpiresAt)
	if a.ProfileTokenPurpose != nil {
		p := *a.ProfileTokenPurpose
		c.ProfileTokenPurpose = &p
	}
	c.PasswordTokenHash = cloneString(a.PasswordTokenHash)
	c.PasswordTokenExpiresAt = cloneTime(a.PasswordTokenExpiresAt)
	c.LockedUntil = cloneTime(a.LockedUntil)
	return &c
}

// AccountView: то, что уходит клиенту.
type AccountView struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	Phone       string           `json:"phone,omitempty"`
	Position    string           `json:"position,omitempty"`
	Role        Role             `json:"role"`
	Permissions []permission.Tag `json:"permissions"`
	IsActive    bool             `json:"isActive"`
	LastLoginAt *time.Time       `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (a *Account) View() AccountView {
	perms := a.EffectivePermissions()
	if perms == nil {
		perms = []permission.Tag{}
	}
	return AccountView{
		ID:          a.ID,
		Email:       a.Email,
		Name:        a.Name,
		Phone:       a.Phone,
		Position:    a.Position,
		Role:        a.Role,
		Permissions: perms,
		IsActive:    a.IsActive,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// NormalizeEmail: email хранится в нижнем регистре без пробелов по краям.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
