package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatwire/internal/auth"
)

const otpTTL = 15 * time.Minute

var (
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCodeNotFound       = errors.New("verification code expired or not found")
	ErrCodeMismatch       = errors.New("invalid verification code")
)

// CodeStore holds short-lived verification codes (backed by Redis in prod).
type CodeStore interface {
	Set(ctx context.Context, key, code string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// Mailer delivers verification codes. The default implementation just logs
// them; a real SMTP sender slots in behind the same interface.
type Mailer interface {
	SendVerificationCode(email, code string) error
}

type Service struct {
	repo       *Repository
	accessAuth *auth.Authenticator
	emailAuth  *auth.Authenticator
	codes      CodeStore
	mailer     Mailer
}

func NewService(repo *Repository, accessAuth, emailAuth *auth.Authenticator, codes CodeStore, mailer Mailer) *Service {
	return &Service{
		repo:       repo,
		accessAuth: accessAuth,
		emailAuth:  emailAuth,
		codes:      codes,
		mailer:     mailer,
	}
}

// Register creates the account and kicks off email verification: a 6-digit
// code stored with a TTL plus a signed token the client echoes back when
// submitting the code.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if _, err := s.repo.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.CreateUser(ctx, &User{
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hashedPwd),
	})
	if err != nil {
		return nil, err
	}

	token, err := s.issueVerification(ctx, u)
	if err != nil {
		return nil, err
	}

	return &RegisterResponse{ID: u.ID, Email: u.Email, VerificationToken: token}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.accessAuth.GenerateToken(auth.Identity{ID: u.ID, Email: u.Email, Name: u.Name})
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:   ss,
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
	}, nil
}

// VerifyEmail checks the submitted code against the stored one and marks
// the account verified. The code is single-use.
func (s *Service) VerifyEmail(ctx context.Context, req *VerifyEmailRequest) error {
	identity, err := s.emailAuth.ValidateToken(req.Token)
	if err != nil {
		return err
	}

	stored, err := s.codes.Get(ctx, otpKey(identity.ID))
	if err != nil {
		return err
	}
	if stored != req.OTP {
		return ErrCodeMismatch
	}

	if err := s.repo.MarkEmailVerified(ctx, identity.ID); err != nil {
		return err
	}
	return s.codes.Del(ctx, otpKey(identity.ID))
}

// ResendCode invalidates any outstanding code and issues a fresh one.
func (s *Service) ResendCode(ctx context.Context, req *ResendCodeRequest) error {
	identity, err := s.emailAuth.ValidateToken(req.Token)
	if err != nil {
		return err
	}

	u, err := s.repo.GetUserByID(ctx, identity.ID)
	if err != nil {
		return err
	}

	if err := s.codes.Del(ctx, otpKey(u.ID)); err != nil {
		return err
	}
	_, err = s.issueVerification(ctx, u)
	return err
}

func (s *Service) ValidateToken(tokenString string) (*auth.Identity, error) {
	return s.accessAuth.ValidateToken(tokenString)
}

func (s *Service) SearchUsers(ctx context.Context, query, excludeID string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query, excludeID)
}

func (s *Service) issueVerification(ctx context.Context, u *User) (string, error) {
	code, err := generateOTP()
	if err != nil {
		return "", err
	}

	if err := s.codes.Set(ctx, otpKey(u.ID), code, otpTTL); err != nil {
		return "", err
	}

	token, err := s.emailAuth.GenerateToken(auth.Identity{ID: u.ID, Email: u.Email, Name: u.Name})
	if err != nil {
		return "", err
	}

	if err := s.mailer.SendVerificationCode(u.Email, code); err != nil {
		return "", err
	}
	return token, nil
}

func otpKey(userID string) string {
	return "otp:" + userID
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
