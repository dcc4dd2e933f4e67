package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"shepherd/internal/logs"
	"shepherd/internal/mailer"
	"shepherd/internal/metrics"
	"shepherd/internal/models"
	"shepherd/internal/permission"
	"shepherd/internal/repo"
)

const defaultLockout = 30 * time.Minute

// Config: параметры ядра авторизации.
type Config struct {
	Tokens          IssuerConfig
	BcryptCost      int
	MaxFailedLogins int           // 0: блокировка отключена
	LockoutDuration time.Duration
	FrontendURL     string
}

// Session: результат входа и ротации.
type Session struct {
	AccessToken  string
	RefreshToken string
	Account      *models.Account
}

// Service реализует вход, сессии, токены подтверждения и смену пароля.
type Service struct {
	store  repo.AccountStore
	hasher Hasher
	tokens *TokenIssuer
	mail   mailer.Mailer
	now    func() time.Time

	maxFailed   int
	lockout     time.Duration
	frontendURL string

	// сравнение с этим хэшем выравнивает время ответа для неизвестного email
	dummyHash string
}

type Option func(*Service)

// WithClock подменяет источник времени (тесты).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithMailer(m mailer.Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mail = m
		}
	}
}

func NewService(store repo.AccountStore, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: account store is required")
	}
	s := &Service{
		store:       store,
		hasher:      NewHasher(cfg.BcryptCost),
		mail:        mailer.LogMailer{},
		now:         func() time.Time { return time.Now().UTC() },
		maxFailed:   cfg.MaxFailedLogins,
		lockout:     cfg.LockoutDuration,
		frontendURL: cfg.FrontendURL,
	}
	if s.lockout <= 0 {
		s.lockout = defaultLockout
	}
	for _, opt := range opts {
		opt(s)
	}

	ti, err := NewTokenIssuer(cfg.Tokens, s.now)
	if err != nil {
		return nil, err
	}
	s.tokens = ti

	dummy, err := s.hasher.Hash("shepherd-timing-equalizer")
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

// Tokens отдаёт выпускатель токенов (нужен Gate и тестам).
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

func logFor(op, accountID string) *logrus.Entry {
	f := logrus.Fields{"op": op}
	if accountID != "" {
		f["account"] = accountID
	}
	return logs.Logger.WithFields(f)
}

func record(op string, err error) {
	outcome := "ok"
	if err != nil {
		if code, ok := CodeOf(err); ok {
			outcome = code.Wire()
		} else {
			outcome = "error"
		}
	}
	metrics.AuthEvent(op, outcome)
}

func (s *Service) internal(op string, err error) error {
	logFor(op, "").WithError(err).Error("internal failure")
	return newError(CodeAuthError, err)
}

/* ---------- Вход и сессия ---------- */

// Login проверяет учётные данные и выдаёт пару токенов. Любая причина отказа
// (нет email, блокировка, неактивна, неверный пароль) отдаётся одинаково.
func (s *Service) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	defer func() { record("login", err) }()

	email = models.NormalizeEmail(email)
	acc, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		logs.Logger.WithField("email", email).Info("login rejected: unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.internal("login", err)
	}
	log := logFor("login", acc.ID)
	now := s.now()

	ok, verr := s.hasher.Verify(password, acc.PasswordHash)
	if verr != nil {
		return nil, s.internal("login", verr)
	}
	if acc.IsLocked(now) {
		log.WithField("locked_until", acc.LockedUntil).Warn("login rejected: account locked")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.registerFailure(ctx, acc, now)
		log.Info("login rejected: password mismatch")
		return nil, ErrInvalidCredentials
	}
	if !acc.IsActive {
		log.Info("login rejected: account inactive")
		return nil, ErrInvalidCredentials
	}

	access, refresh, err := s.issuePair(acc.ID)
	if err != nil {
		return nil, s.internal("login", err)
	}
	refreshDigest := digestToken(refresh)
	if err := s.store.RecordLogin(ctx, acc.ID, refreshDigest, now); err != nil {
		return nil, s.internal("login", err)
	}
	acc.RefreshTokenHash = &refreshDigest
	acc.LastLoginAt = &now
	acc.FailedLoginAttempts = 0
	acc.LockedUntil = nil

	log.Info("login ok")
	return &Session{AccessToken: access, RefreshToken: refresh, Account: acc}, nil
}

func (s *Service) registerFailure(ctx context.Context, acc *models.Account, now time.Time) {
	if s.maxFailed <= 0 {
		return
	}
	attempts := acc.FailedLoginAttempts
	if acc.LockedUntil != nil {
		// прошлая блокировка истекла, считаем заново
		attempts = 0
	}
	attempts++
	var lockedUntil *time.Time
	if attempts >= s.maxFailed {
		t := now.Add(s.lockout)
		lockedUntil = &t
		logFor("login", acc.ID).WithField("attempts", attempts).Warn("account locked after repeated failures")
	}
	if err := s.store.RecordLoginFailure(ctx, acc.ID, attempts, lockedUntil); err != nil {
		logFor("login", acc.ID).WithError(err).Error("record login failure")
	}
}

func (s *Service) issuePair(accountID string) (access, refresh string, err error) {
	access, err = s.tokens.IssueAccess(accountID)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.tokens.IssueRefresh(accountID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Refresh меняет refresh-токен на новую пару. Старый токен после этого недействителен.
func (s *Service) Refresh(ctx context.Context, token string) (sess *Session, err error) {
	defer func() { record("refresh", err) }()

	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	claims, err := s.tokens.Verify(token, KindRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, err
		}
		return nil, newError(CodeInvalidRefreshToken, err)
	}
	acc, err := s.store.FindByID(ctx, claims.AccountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError(CodeInvalidRefreshToken, err)
	}
	if err != nil {
		return nil, s.internal("refresh", err)
	}
	log := logFor("refresh", acc.ID)
	if !acc.IsActive {
		log.Info("refresh rejected: account inactive")
		return nil, ErrInvalidRefreshToken
	}
	if !digestMatches(acc.RefreshTokenHash, token) {
		log.Warn("refresh rejected: token superseded or revoked")
		return nil, ErrInvalidRefreshToken
	}

	access, refresh, err := s.issuePair(acc.ID)
	if err != nil {
		return nil, s.internal("refresh", err)
	}
	next := digestToken(refresh)
	err = s.store.RotateRefreshToken(ctx, acc.ID, *acc.RefreshTokenHash, next)
	switch {
	case errors.Is(err, repo.ErrStaleToken), errors.Is(err, repo.ErrNotFound):
		log.Warn("refresh rejected: lost rotation race")
		return nil, newError(CodeInvalidRefreshToken, err)
	case err != nil:
		return nil, s.internal("refresh", err)
	}
	acc.RefreshTokenHash = &next
	return &Session{AccessToken: access, RefreshToken: refresh, Account: acc}, nil
}

// Logout очищает слот сессии. Повторный вызов ничего не меняет.
func (s *Service) Logout(ctx context.Context, accountID string) (err error) {
	defer func() { record("logout", err) }()
	if err := s.store.ClearRefreshToken(ctx, accountID); err != nil {
		return s.internal("logout", err)
	}
	logFor("logout", accountID).Info("session cleared")
	return nil
}

// Authenticate разрешает access-токен в активную учётную запись.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if !WellFormed(token) {
		return nil, ErrInvalidTokenFormat
	}
	claims, err := s.tokens.Verify(token, KindAccess)
	if err != nil {
		return nil, err
	}
	acc, err := s.store.FindByID(ctx, claims.AccountID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, s.internal("authenticate", err)
	}
	if !acc.IsActive {
		return nil, ErrAccountInactive
	}
	return acc, nil
}

/* ---------- Токены подтверждения ---------- */

func (s *Service) load(ctx context.Context, op, id string) (*models.Account, error) {
	acc, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, s.internal(op, err)
	}
	return acc, nil
}

// deliver: сбой доставки не откатывает сохранённый токен.
func (s *Service) deliver(ctx context.Context, op string, acc *models.Account, msg mailer.Message) error {
	err := s.mail.Send(ctx, msg)
	metrics.EmailSent(msg.Kind, err)
	if err != nil {
		logFor(op, acc.ID).WithError(err).Error("verification email not delivered")
		return newError(CodeEmailDeliveryFailed, err)
	}
	return nil
}

// RequestProfileUpdate выдаёт токен в слот профиля и отправляет его письмом.
func (s *Service) RequestProfileUpdate(ctx context.Context, accountID string, purpose models.TokenPurpose) (expiresAt time.Time, err error) {
	defer func() { record("request_profile_update", err) }()

	if !purpose.Valid() {
		return time.Time{}, fmt.Errorf("auth: unknown token purpose %q", purpose)
	}
	acc, err := s.load(ctx, "request_profile_update", accountID)
	if err != nil {
		return time.Time{}, err
	}
	plain, digest, err := newVerificationToken()
	if err != nil {
		return time.Time{}, s.internal("request_profile_update", err)
	}
	expiresAt = s.now().Add(VerificationTokenTTL)
	if err := s.store.SetProfileToken(ctx, acc.ID, digest, purpose, expiresAt); err != nil {
		return time.Time{}, s.internal("request_profile_update", err)
	}
	logFor("request_profile_update", acc.ID).WithField("purpose", purpose).Info("profile token issued")

	msg := mailer.VerificationMessage(acc.Email, acc.Name, string(purpose), plain, VerificationTokenTTL)
	return expiresAt, s.deliver(ctx, "request_profile_update", acc, msg)
}

// VerifyProfileToken: проверка без гашения.
func (s *Service) VerifyProfileToken(ctx context.Context, accountID, token string) (TokenCheck, error) {
	acc, err := s.load(ctx, "verify_profile_token", accountID)
	if err != nil {
		return TokenCheck{}, err
	}
	if err := checkSlot(token, profileSlot(acc), passwordSlot(acc), s.now()); err != nil {
		return invalidCheck(err), nil
	}
	check := TokenCheck{Valid: true, ExpiresAt: acc.ProfileTokenExpiresAt}
	if acc.ProfileTokenPurpose != nil {
		check.Type = TokenType(*acc.ProfileTokenPurpose)
	}
	return check, nil
}

func invalidCheck(err error) TokenCheck {
	reason := CodeAuthError.Wire()
	if code, ok := CodeOf(err); ok {
		reason = code.Wire()
	}
	return TokenCheck{Valid: false, Reason: reason}
}

// ProfileInput: nil-поля не меняются. Token обязателен.
type ProfileInput struct {
	Name     *string
	Email    *string
	Phone    *string
	Position *string
	Token    string
}

// UpdateProfile гасит токен профиля и применяет изменения. Новый email требует
// токена с назначением email, прочие поля требуют profile.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, in ProfileInput) (acc *models.Account, err error) {
	defer func() { record("update_profile", err) }()

	acc, err = s.load(ctx, "update_profile", accountID)
	if err != nil {
		return nil, err
	}

	changes := repo.ProfileChanges{Name: in.Name, Phone: in.Phone, Position: in.Position}
	op := models.PurposeProfile
	if in.Email != nil {
		if email := models.NormalizeEmail(*in.Email); email != acc.Email {
			op = models.PurposeEmail
			changes.Email = &email
		}
	}

	if err := checkSlot(in.Token, profileSlot(acc), passwordSlot(acc), s.now()); err != nil {
		return nil, err
	}
	if acc.ProfileTokenPurpose == nil || *acc.ProfileTokenPurpose != op {
		return nil, ErrWrongTokenType
	}
	if changes.Email != nil {
		taken, err := s.store.EmailTaken(ctx, *changes.Email, acc.ID)
		if err != nil {
			return nil, s.internal("update_profile", err)
		}
		if taken {
			return nil, ErrEmailAlreadyInUse
		}
	}

	err = s.store.ConsumeProfileToken(ctx, acc.ID, *acc.ProfileTokenHash, changes)
	switch {
	case errors.Is(err, repo.ErrStaleToken):
		return nil, newError(CodeTokenMismatch, err)
	case errors.Is(err, repo.ErrDuplicateEmail):
		return nil, newError(CodeEmailAlreadyInUse, err)
	case err != nil:
		return nil, s.internal("update_profile", err)
	}
	logFor("update_profile", acc.ID).WithField("purpose", op).Info("profile updated")
	return s.load(ctx, "update_profile", acc.ID)
}

// RequestPasswordChange требует текущий пароль и отправляет токен в слот пароля.
func (s *Service) RequestPasswordChange(ctx context.Context, accountID, currentPassword string) (expiresAt time.Time, err error) {
	defer func() { record("request_password_change", err) }()

	acc, err := s.load(ctx, "request_password_change", accountID)
	if err != nil {
		return time.Time{}, err
	}
	ok, err := s.hasher.Verify(currentPassword, acc.PasswordHash)
	if err != nil {
		return time.Time{}, s.internal("request_password_change", err)
	}
	if !ok {
		return time.Time{}, ErrInvalidCurrentPassword
	}
	plain, digest, err := newVerificationToken()
	if err != nil {
		return time.Time{}, s.internal("request_password_change", err)
	}
	expiresAt = s.now().Add(VerificationTokenTTL)
	if err := s.store.SetPasswordToken(ctx, acc.ID, digest, expiresAt); err != nil {
		return time.Time{}, s.internal("request_password_change", err)
	}
	logFor("request_password_change", acc.ID).Info("password token issued")

	msg := mailer.VerificationMessage(acc.Email, acc.Name, string(TypePassword), plain, VerificationTokenTTL)
	return expiresAt, s.deliver(ctx, "request_password_change", acc, msg)
}

func (s *Service) VerifyPasswordToken(ctx context.Context, accountID, token string) (TokenCheck, error) {
	acc, err := s.load(ctx, "verify_password_token", accountID)
	if err != nil {
		return TokenCheck{}, err
	}
	if err := checkSlot(token, passwordSlot(acc), profileSlot(acc), s.now()); err != nil {
		return invalidCheck(err), nil
	}
	return TokenCheck{Valid: true, Type: TypePassword, ExpiresAt: acc.PasswordTokenExpiresAt}, nil
}

type ChangePasswordInput struct {
	Token           string
	NewPassword     string
	CurrentPassword string // необязателен; если передан, проверяется
}

// ChangePassword гасит токен пароля, меняет хэш и завершает сессию.
func (s *Service) ChangePassword(ctx context.Context, accountID string, in ChangePasswordInput) (err error) {
	defer func() { record("change_password", err) }()

	acc, err := s.load(ctx, "change_password", accountID)
	if err != nil {
		return err
	}
	if err := checkSlot(in.Token, passwordSlot(acc), profileSlot(acc), s.now()); err != nil {
		return err
	}
	if in.CurrentPassword != "" {
		ok, err := s.hasher.Verify(in.CurrentPassword, acc.PasswordHash)
		if err != nil {
			return s.internal("change_password", err)
		}
		if !ok {
			return ErrInvalidCurrentPassword
		}
	}
	same, err := s.hasher.Verify(in.NewPassword, acc.PasswordHash)
	if err != nil {
		return s.internal("change_password", err)
	}
	if same {
		return ErrSamePassword
	}
	digest, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return s.internal("change_password", err)
	}

	err = s.store.ConsumePasswordToken(ctx, acc.ID, *acc.PasswordTokenHash, digest)
	switch {
	case errors.Is(err, repo.ErrStaleToken):
		return newError(CodeTokenMismatch, err)
	case err != nil:
		return s.internal("change_password", err)
	}
	logFor("change_password", acc.ID).Info("password changed, session revoked")
	return nil
}

/* ---------- Сброс пароля ---------- */

// ForgotPassword всегда успешен для вызывающего: существование email не раскрывается.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { record("forgot_password", err) }()

	email = models.NormalizeEmail(email)
	acc, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		logs.Logger.WithField("email", email).Info("reset requested for unknown email")
		return nil
	}
	if err != nil {
		return s.internal("forgot_password", err)
	}
	log := logFor("forgot_password", acc.ID)
	if !acc.IsActive {
		log.Info("reset requested for inactive account")
		return nil
	}
	token, err := s.tokens.IssueReset(acc.ID, acc.PasswordHash)
	if err != nil {
		return s.internal("forgot_password", err)
	}
	link := mailer.ResetLink(s.frontendURL, acc.ID, token)
	msg := mailer.ResetMessage(acc.Email, acc.Name, link, s.tokens.resetTTL)
	sendErr := s.mail.Send(ctx, msg)
	metrics.EmailSent(msg.Kind, sendErr)
	if sendErr != nil {
		log.WithError(sendErr).Error("reset email not delivered")
		return nil
	}
	log.Info("reset link sent")
	return nil
}

// ResetPassword: ключ подписи зависит от хэша пароля, поэтому учётная запись
// загружается до проверки токена.
func (s *Service) ResetPassword(ctx context.Context, accountID, token, newPassword string) (err error) {
	defer func() { record("reset_password", err) }()

	acc, err := s.store.FindByID(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return newError(CodeInvalidResetToken, err)
	}
	if err != nil {
		return s.internal("reset_password", err)
	}
	claims, err := s.tokens.VerifyReset(token, acc.PasswordHash)
	if err != nil {
		return newError(CodeInvalidResetToken, err)
	}
	if claims.AccountID != acc.ID || !acc.IsActive {
		return ErrInvalidResetToken
	}
	same, err := s.hasher.Verify(newPassword, acc.PasswordHash)
	if err != nil {
		return s.internal("reset_password", err)
	}
	if same {
		return ErrSamePassword
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internal("reset_password", err)
	}
	err = s.store.ResetPassword(ctx, acc.ID, acc.PasswordHash, digest)
	switch {
	case errors.Is(err, repo.ErrStaleToken):
		return newError(CodeInvalidResetToken, err)
	case err != nil:
		return s.internal("reset_password", err)
	}
	logFor("reset_password", acc.ID).Info("password reset, sessions and pending tokens cleared")
	return nil
}

/* ---------- Администрирование ---------- */

// Account возвращает учётную запись по id; repo.ErrNotFound, если её нет.
func (s *Service) Account(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.store.FindByID(ctx, id)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, s.internal("get_account", err)
	}
	return acc, err
}

// RevokeSessions принудительно завершает сессию другой учётной записи.
func (s *Service) RevokeSessions(ctx context.Context, actorID, targetID string) error {
	if _, err := s.Account(ctx, targetID); err != nil {
		return err
	}
	if err := s.store.ClearRefreshToken(ctx, targetID); err != nil {
		return s.internal("revoke_sessions", err)
	}
	logFor("revoke_sessions", targetID).WithField("actor", actorID).Warn("session revoked by super admin")
	record("revoke_sessions", nil)
	return nil
}

func (s *Service) Unlock(ctx context.Context, actorID, targetID string) error {
	if _, err := s.Account(ctx, targetID); err != nil {
		return err
	}
	if err := s.store.Unlock(ctx, targetID); err != nil {
		return s.internal("unlock", err)
	}
	logFor("unlock", targetID).WithField("actor", actorID).Info("account unlocked")
	record("unlock", nil)
	return nil
}

// EnsureSuperAdmin создаёт super_admin при старте, если такого email ещё нет.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, name, password string) (bool, error) {
	email = models.NormalizeEmail(email)
	_, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("bootstrap lookup: %w", err)
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	acc := &models.Account{
		Email:        email,
		Name:         name,
		Role:         models.RoleSuperAdmin,
		Permissions:  permissionStrings(permission.All()),
		IsActive:     true,
		PasswordHash: digest,
	}
	if err := s.store.Create(ctx, acc); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap create: %w", err)
	}
	logFor("bootstrap", acc.ID).WithField("email", email).Info("super admin created")
	return true, nil
}

func permissionStrings(tags []permission.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
