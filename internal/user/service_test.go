package user

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatwire/internal/auth"
)

type fakeCodeStore struct {
	codes map[string]string
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]string)}
}

func (s *fakeCodeStore) Set(_ context.Context, key, code string, _ time.Duration) error {
	s.codes[key] = code
	return nil
}

func (s *fakeCodeStore) Get(_ context.Context, key string) (string, error) {
	code, ok := s.codes[key]
	if !ok {
		return "", ErrCodeNotFound
	}
	return code, nil
}

func (s *fakeCodeStore) Del(_ context.Context, key string) error {
	delete(s.codes, key)
	return nil
}

type fakeMailer struct {
	sentTo   []string
	sentCode string
}

func (m *fakeMailer) SendVerificationCode(email, code string) error {
	m.sentTo = append(m.sentTo, email)
	m.sentCode = code
	return nil
}

type serviceFixture struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	codes     *fakeCodeStore
	mailer    *fakeMailer
	emailAuth *auth.Authenticator
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codes := newFakeCodeStore()
	mailer := &fakeMailer{}
	accessAuth := auth.NewAuthenticator("access-secret", "chatwire", time.Hour)
	emailAuth := auth.NewAuthenticator("email-secret", "chatwire-email", time.Hour)

	return &serviceFixture{
		svc:       NewService(NewRepository(db), accessAuth, emailAuth, codes, mailer),
		mock:      mock,
		codes:     codes,
		mailer:    mailer,
		emailAuth: emailAuth,
	}
}

func userColumns() []string {
	return []string{"id", "name", "email", "password", "email_verified", "created_at", "updated_at"}
}

func TestRegisterStoresCodeAndMailsIt(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns()))
	f.mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "Alice", "alice@example.com", sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := f.svc.Register(context.Background(), &RegisterRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.VerificationToken)

	stored, err := f.codes.Get(context.Background(), otpKey(resp.ID))
	require.NoError(t, err)
	assert.Len(t, stored, 6)
	assert.Equal(t, stored, f.mailer.sentCode, "mailed code must match the stored one")
	assert.Equal(t, []string{"alice@example.com"}, f.mailer.sentTo)

	identity, err := f.emailAuth.ValidateToken(resp.VerificationToken)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, identity.ID)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	f := newServiceFixture(t)

	now := time.Now()
	f.mock.ExpectQuery("FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("u1", "Alice", "alice@example.com", "hash", true, now, now))

	_, err := f.svc.Register(context.Background(), &RegisterRequest{
		Name:     "Alice Again",
		Email:    "alice@example.com",
		Password: "hunter22",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestLogin(t *testing.T) {
	f := newServiceFixture(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now()
	userRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(userColumns()).
			AddRow("u1", "Alice", "alice@example.com", string(hash), true, now, now)
	}

	t.Run("success", func(t *testing.T) {
		f.mock.ExpectQuery("FROM users WHERE email").
			WithArgs("alice@example.com").
			WillReturnRows(userRow())

		resp, err := f.svc.Login(context.Background(), &LoginRequest{
			Email:    "alice@example.com",
			Password: "hunter22",
		})
		require.NoError(t, err)

		assert.Equal(t, "u1", resp.ID)
		assert.True(t, resp.EmailVerified)

		identity, err := f.svc.ValidateToken(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", identity.ID)
		assert.Equal(t, "Alice", identity.Name)
	})

	t.Run("wrong password", func(t *testing.T) {
		f.mock.ExpectQuery("FROM users WHERE email").
			WithArgs("alice@example.com").
			WillReturnRows(userRow())

		_, err := f.svc.Login(context.Background(), &LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		f.mock.ExpectQuery("FROM users WHERE email").
			WithArgs("ghost@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns()))

		_, err := f.svc.Login(context.Background(), &LoginRequest{
			Email:    "ghost@example.com",
			Password: "hunter22",
		})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestVerifyEmail(t *testing.T) {
	f := newServiceFixture(t)

	token, err := f.emailAuth.GenerateToken(auth.Identity{ID: "u1", Email: "alice@example.com"})
	require.NoError(t, err)

	t.Run("correct code marks verified and is single use", func(t *testing.T) {
		f.codes.codes[otpKey("u1")] = "123456"
		f.mock.ExpectExec("UPDATE users SET email_verified").
			WithArgs("u1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := f.svc.VerifyEmail(context.Background(), &VerifyEmailRequest{Token: token, OTP: "123456"})
		require.NoError(t, err)

		_, err = f.codes.Get(context.Background(), otpKey("u1"))
		assert.ErrorIs(t, err, ErrCodeNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("wrong code", func(t *testing.T) {
		f.codes.codes[otpKey("u1")] = "123456"

		err := f.svc.VerifyEmail(context.Background(), &VerifyEmailRequest{Token: token, OTP: "654321"})
		assert.ErrorIs(t, err, ErrCodeMismatch)
		// The code survives a failed attempt.
		assert.Equal(t, "123456", f.codes.codes[otpKey("u1")])
	})

	t.Run("expired code", func(t *testing.T) {
		delete(f.codes.codes, otpKey("u1"))

		err := f.svc.VerifyEmail(context.Background(), &VerifyEmailRequest{Token: token, OTP: "123456"})
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("token signed with wrong key", func(t *testing.T) {
		forger := auth.NewAuthenticator("other-secret", "chatwire-email", time.Hour)
		forged, err := forger.GenerateToken(auth.Identity{ID: "u1"})
		require.NoError(t, err)

		err = f.svc.VerifyEmail(context.Background(), &VerifyEmailRequest{Token: forged, OTP: "123456"})
		assert.Error(t, err)
	})
}

func TestResendCodeIssuesFreshCode(t *testing.T) {
	f := newServiceFixture(t)

	token, err := f.emailAuth.GenerateToken(auth.Identity{ID: "u1", Email: "alice@example.com"})
	require.NoError(t, err)
	f.codes.codes[otpKey("u1")] = "111111"

	now := time.Now()
	f.mock.ExpectQuery("FROM users WHERE id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("u1", "Alice", "alice@example.com", "hash", false, now, now))

	require.NoError(t, f.svc.ResendCode(context.Background(), &ResendCodeRequest{Token: token}))

	fresh := f.codes.codes[otpKey("u1")]
	assert.Len(t, fresh, 6)
	assert.Equal(t, fresh, f.mailer.sentCode)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
