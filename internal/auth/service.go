package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelvault/service/internal/user"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

var (
	ErrMissingFields      = errors.New("all fields are required")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d bytes long", MaxPasswordBytes)
	ErrInvalidUsername    = errors.New("username cannot contain @")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrFieldTooLong       = errors.New("username or email is too long")
	ErrUserExists         = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired session")
)

// Users is the account store the service authenticates against.
type Users interface {
	Create(ctx context.Context, username, email, passwordHash string) (*user.User, error)
	GetByID(ctx context.Context, id int64) (*user.User, error)
	GetByLogin(ctx context.Context, login string) (*user.User, error)
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username        string `json:"username"         validate:"required,max=50,excludes=@"`
	Email           string `json:"email"            validate:"required,email,max=100"`
	Password        string `json:"password"         validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password"`
}

// Session is an issued login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service contains the business logic for password authentication and sessions.
type Service struct {
	users    Users
	revoker  Revoker
	secret   []byte
	ttl      time.Duration
	hashCost int
	validate *validator.Validate
}

// NewService creates a new auth Service.
func NewService(users Users, revoker Revoker, jwtSecret string, ttl time.Duration) *Service {
	return &Service{
		users:    users,
		revoker:  revoker,
		secret:   []byte(jwtSecret),
		ttl:      ttl,
		hashCost: bcrypt.DefaultCost,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register validates in, creates the account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validateRegistration(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, in.Username, in.Email, string(hash))
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issue(u)
}

// Login accepts either the username or the email as login.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrMissingFields
	}

	u, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if user.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(u)
}

// Logout revokes token. Already invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Authenticate turns a session token into the caller's identity.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: id, Username: claims.Username}, nil
}

// Me returns the account behind an authenticated identity.
func (s *Service) Me(ctx context.Context, id Identity) (*user.User, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return s.users.GetByID(ctx, id.UserID)
}

func (s *Service) validateRegistration(in RegisterInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		switch {
		case fe.Tag() == "required":
			return ErrMissingFields
		case fe.Tag() == "excludes":
			return ErrInvalidUsername
		case fe.Tag() == "max":
			return ErrFieldTooLong
		case fe.Field() == "Email":
			return ErrInvalidEmail
		case fe.Field() == "Password":
			return ErrPasswordTooShort
		default:
			return err
		}
	}
	if len(in.Password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return ErrPasswordMismatch
	}
	return nil
}

func (s *Service) issue(u *user.User) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func (s *Service) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
