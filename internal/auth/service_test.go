package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelvault/service/internal/user"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*user.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[int64]*user.User{}} }

func (m *memUsers) Create(_ context.Context, username, email, hash string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username || u.Email == email {
			return nil, user.ErrAlreadyExists
		}
	}
	m.nextID++
	u := &user.User{ID: m.nextID, Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) GetByLogin(_ context.Context, login string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == login || u.Email == login {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

type memRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newMemRevoker() *memRevoker { return &memRevoker{revoked: map[string]time.Time{}} }

func (m *memRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jti]
	return ok && time.Now().Before(exp), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(newMemUsers(), newMemRevoker(), "test-secret", time.Hour)
	svc.hashCost = bcrypt.MinCost
	return svc
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Username:        "alice",
		Email:           "alice@example.com",
		Password:        "hunter2",
		ConfirmPassword: "hunter2",
	}
}

func TestRegister_IssuesUsableSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	assert.Equal(t, "alice", sess.User.Username)
	assert.NotEqual(t, "hunter2", sess.User.PasswordHash)

	id, err := svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RegisterInput)
		want   error
	}{
		{"missing username", func(in *RegisterInput) { in.Username = "  " }, ErrMissingFields},
		{"missing email", func(in *RegisterInput) { in.Email = "" }, ErrMissingFields},
		{"missing password", func(in *RegisterInput) { in.Password = "" }, ErrMissingFields},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, ErrInvalidEmail},
		{"short password", func(in *RegisterInput) { in.Password, in.ConfirmPassword = "12345", "12345" }, ErrPasswordTooShort},
		{"mismatch", func(in *RegisterInput) { in.ConfirmPassword = "hunter3" }, ErrPasswordMismatch},
		{"long username", func(in *RegisterInput) { in.Username = strings.Repeat("a", 51) }, ErrFieldTooLong},
		{"password over bcrypt limit", func(in *RegisterInput) {
			in.Password = strings.Repeat("a", 73)
			in.ConfirmPassword = in.Password
		}, ErrPasswordTooLong},
		{"multibyte password over bcrypt limit", func(in *RegisterInput) {
			in.Password = strings.Repeat("é", 40)
			in.ConfirmPassword = in.Password
		}, ErrPasswordTooLong},
		{"username with at sign", func(in *RegisterInput) { in.Username = "bob@example.com" }, ErrInvalidUsername},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRegistration()
			tc.mutate(&in)
			_, err := newTestService(t).Register(context.Background(), in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	in := validRegistration()
	in.Username = "alice2"
	_, err = svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLogin_ByUsernameOrEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	for _, login := range []string{"alice", "alice@example.com"} {
		sess, err := svc.Login(ctx, login, "hunter2")
		require.NoError(t, err, login)
		assert.Equal(t, "alice", sess.User.Username)
	}

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "", "hunter2")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestLogout_RevokesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.Token))

	_, err = svc.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A second login is unaffected.
	again, err := svc.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, again.Token)
	assert.NoError(t, err)
}

func TestAuthenticate_RejectsForeignTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService(newMemUsers(), newMemRevoker(), "other-secret", time.Hour)
	other.hashCost = bcrypt.MinCost
	sess, err := other.Register(ctx, validRegistration())
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMe(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	u, err := svc.Me(ctx, Identity{UserID: sess.User.ID})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = svc.Me(ctx, Identity{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
