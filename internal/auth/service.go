package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore persists registered users and their password hashes.
type UserStore interface {
	Create(ctx context.Context, u *models.RegisteredUser, passwordHash string) error
	// GetByEmail returns ErrUserNotFound for unknown emails.
	GetByEmail(ctx context.Context, email string) (*models.RegisteredUser, string, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.RegisteredUser, error)
}

type Service interface {
	Register(ctx context.Context, email, password, name, role string) (*models.RegisteredUser, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
	Profile(ctx context.Context, id uuid.UUID) (*models.RegisteredUser, error)
	IsRegistered(ctx context.Context, id uuid.UUID) (bool, error)
}

type service struct {
	repo   UserStore
	secret []byte
	ttl    time.Duration
}

func NewService(repo UserStore, secret string, ttl time.Duration) *service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{repo: repo, secret: []byte(secret), ttl: ttl}
}

// Ensure service implements Service and the escrow identity contract at compile time.
var (
	_ Service                = (*service)(nil)
	_ escrow.BackerDirectory = (*service)(nil)
)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func validRole(role string) bool {
	switch role {
	case models.RoleBacker, models.RoleCreator, models.RoleOperator, models.RoleAdapter:
		return true
	}
	return false
}

func (s *service) Register(ctx context.Context, email, password, name, role string) (*models.RegisteredUser, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.RegisteredUser{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Name:  name,
		Role:  role,
	}
	if err := s.repo.Create(ctx, u, string(hash)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, hash, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID, u.Role)
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}

func (s *service) Profile(ctx context.Context, id uuid.UUID) (*models.RegisteredUser, error) {
	return s.repo.GetByID(ctx, id)
}

// IsRegistered reports whether id belongs to a registered user.
func (s *service) IsRegistered(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up user %s: %w", id, err)
	}
	return true, nil
}
