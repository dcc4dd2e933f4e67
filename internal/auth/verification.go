package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"shepherd/internal/models"
)

// VerificationTokenTTL: срок жизни токена подтверждения, не настраивается.
const VerificationTokenTTL = 15 * time.Minute

const verificationTokenBytes = 32

// newVerificationToken возвращает открытое значение (уходит в письмо) и его хэш (в БД).
func newVerificationToken() (plain, digest string, err error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate verification token: %w", err)
	}
	plain = hex.EncodeToString(buf)
	return plain, digestToken(plain), nil
}

// digestToken: SHA-256 в hex. Так хранятся refresh-токены и токены подтверждения.
func digestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func digestMatches(stored *string, presented string) bool {
	if stored == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(digestToken(presented))) == 1
}

// TokenType: тип операции, для которой выдан токен подтверждения.
type TokenType string

const (
	TypeEmail    TokenType = TokenType(models.PurposeEmail)
	TypeProfile  TokenType = TokenType(models.PurposeProfile)
	TypePassword TokenType = "password"
)

// TokenCheck: результат read-only проверки токена подтверждения.
type TokenCheck struct {
	Valid     bool       `json:"valid"`
	Type      TokenType  `json:"type,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// slot: одна пара (хэш, срок) в учётной записи.
type slot struct {
	digest    *string
	expiresAt *time.Time
}

func profileSlot(a *models.Account) slot {
	return slot{digest: a.ProfileTokenHash, expiresAt: a.ProfileTokenExpiresAt}
}

func passwordSlot(a *models.Account) slot {
	return slot{digest: a.PasswordTokenHash, expiresAt: a.PasswordTokenExpiresAt}
}

// checkSlot применяет проверки в фиксированном порядке: пустой токен, пустой слот,
// несовпадение, истечение. Токен, подходящий к соседнему слоту, даёт WrongTokenType.
func checkSlot(token string, own, other slot, now time.Time) error {
	if token == "" {
		return ErrTokenRequired
	}
	if own.digest == nil {
		if digestMatches(other.digest, token) {
			return ErrWrongTokenType
		}
		return ErrNoStoredToken
	}
	if !digestMatches(own.digest, token) {
		if digestMatches(other.digest, token) {
			return ErrWrongTokenType
		}
		return ErrTokenMismatch
	}
	if own.expiresAt == nil || !now.Before(*own.expiresAt) {
		return ErrVerificationExpired
	}
	return nil
}
