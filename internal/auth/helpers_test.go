package auth

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shepherd/internal/mailer"
	"shepherd/internal/models"
	"shepherd/internal/permission"
	"shepherd/internal/repo"
)

const testPassword = "correct horse battery"

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email was sent")
	return m.sent[len(m.sent)-1]
}

var codeRe = regexp.MustCompile(`(?m)^\s+([0-9a-f]{64})$`)

// verificationCode достаёт код подтверждения из последнего письма.
func (m *captureMailer) verificationCode(t *testing.T) string {
	t.Helper()
	match := codeRe.FindStringSubmatch(m.last(t).Body)
	require.Len(t, match, 2, "verification code not found in email body")
	return match[1]
}

var linkRe = regexp.MustCompile(`https?://\S+/reset-password\?\S+`)

func (m *captureMailer) resetLink(t *testing.T) (id, token string) {
	t.Helper()
	raw := linkRe.FindString(m.last(t).Body)
	require.NotEmpty(t, raw, "reset link not found in email body")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("id"), u.Query().Get("token")
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	store *repo.MemoryAccountStore
	mail  *captureMailer
	clock *testClock
}

func testConfig() Config {
	return Config{
		Tokens: IssuerConfig{
			AccessSecret:  "access-secret-for-tests",
			RefreshSecret: "refresh-secret-for-tests",
			ResetSecret:   "reset-secret-for-tests",
		},
		BcryptCost:      bcrypt.MinCost,
		MaxFailedLogins: 3,
		LockoutDuration: 30 * time.Minute,
		FrontendURL:     "https://admin.church.org",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repo.NewMemoryAccountStore(),
		mail:  &captureMailer{},
		clock: newTestClock(),
	}
	svc, err := NewService(f.store, testConfig(), WithClock(f.clock.Now), WithMailer(f.mail))
	require.NoError(t, err)
	f.svc = svc
	return f
}

// seed создаёт учётную запись с паролем testPassword.
func (f *fixture) seed(t *testing.T, email string, role models.Role, perms ...permission.Tag) *models.Account {
	t.Helper()
	digest, err := f.svc.hasher.Hash(testPassword)
	require.NoError(t, err)
	acc := &models.Account{
		Email:        email,
		Name:         "Test Admin",
		Role:         role,
		IsActive:     true,
		PasswordHash: digest,
		Permissions:  permissionStrings(perms),
	}
	require.NoError(t, f.store.Create(context.Background(), acc))
	return acc
}

func (f *fixture) reload(t *testing.T, id string) *models.Account {
	t.Helper()
	acc, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func requireCode(t *testing.T, err error, want Code) {
	t.Helper()
	require.Error(t, err)
	got, ok := CodeOf(err)
	require.True(t, ok, "not an auth error: %v", err)
	require.Equal(t, want.Wire(), got.Wire(), "unexpected error: %v", err)
	require.Equal(t, want, got)
}
