package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind: тип JWT, пишется в claim "typ" и сверяется при проверке.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
	KindReset   TokenKind = "reset"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = time.Hour
)

// Claims: полезная нагрузка всех токенов сервиса.
type Claims struct {
	AccountID string    `json:"id"`
	Type      TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer подписывает и проверяет HS256-токены. Access, refresh и reset
// подписываются разными секретами.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	resetSecret   []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	now           func() time.Time
}

type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	ResetSecret   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

func NewTokenIssuer(cfg IssuerConfig, now func() time.Time) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if now == nil {
		now = time.Now
	}
	ti := &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		resetSecret:   []byte(cfg.ResetSecret),
		accessTTL:     orDefault(cfg.AccessTTL, defaultAccessTTL),
		refreshTTL:    orDefault(cfg.RefreshTTL, defaultRefreshTTL),
		resetTTL:      orDefault(cfg.ResetTTL, defaultResetTTL),
		now:           now,
	}
	if len(ti.resetSecret) == 0 {
		ti.resetSecret = ti.refreshSecret
	}
	return ti, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (t *TokenIssuer) IssueAccess(accountID string) (string, error) {
	return t.sign(accountID, KindAccess, t.accessSecret, t.accessTTL)
}

func (t *TokenIssuer) IssueRefresh(accountID string) (string, error) {
	return t.sign(accountID, KindRefresh, t.refreshSecret, t.refreshTTL)
}

// IssueReset: ключ подписи зависит от текущего хэша пароля, поэтому любая смена
// пароля отзывает все выданные ссылки сброса.
func (t *TokenIssuer) IssueReset(accountID, passwordHash string) (string, error) {
	return t.sign(accountID, KindReset, t.resetKey(passwordHash), t.resetTTL)
}

func (t *TokenIssuer) resetKey(passwordHash string) []byte {
	k := make([]byte, 0, len(t.resetSecret)+len(passwordHash))
	k = append(k, t.resetSecret...)
	return append(k, passwordHash...)
}

func (t *TokenIssuer) sign(accountID string, kind TokenKind, secret []byte, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		AccountID: accountID,
		Type:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return s, nil
}

// Verify проверяет подпись, алгоритм, срок и тип токена.
func (t *TokenIssuer) Verify(token string, kind TokenKind) (*Claims, error) {
	switch kind {
	case KindAccess:
		return t.verify(token, kind, t.accessSecret)
	case KindRefresh:
		return t.verify(token, kind, t.refreshSecret)
	default:
		return nil, fmt.Errorf("auth: unsupported token kind %q", kind)
	}
}

func (t *TokenIssuer) VerifyReset(token, passwordHash string) (*Claims, error) {
	return t.verify(token, KindReset, t.resetKey(passwordHash))
}

func (t *TokenIssuer) verify(token string, kind TokenKind, secret []byte) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if claims.Type != kind {
		return nil, newError(CodeInvalidToken, fmt.Errorf("token type %q, want %q", claims.Type, kind))
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return nil, newError(CodeInvalidTokenPayload, errors.New("token has no account id"))
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(CodeTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return newError(CodeInvalidToken, err)
	default:
		return newError(CodeTokenVerificationFailed, err)
	}
}

// WellFormed: дешёвая структурная проверка до криптографии. Три непустых
// сегмента в base64url.
func WellFormed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p, "=")); err != nil {
			return false
		}
	}
	return true
}
