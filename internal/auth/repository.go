package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundverse/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ UserStore = (*Repository)(nil)

// Create inserts a new user and fills in its id and registration time.
func (r *Repository) Create(ctx context.Context, u *models.RegisteredUser, passwordHash string) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, registered_at
	`, u.Email, u.Name, u.Role, passwordHash).Scan(&u.ID, &u.RegisteredAt)
}

// GetByEmail returns the user and password hash for login.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.RegisteredUser, string, error) {
	var u models.RegisteredUser
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, registered_at, password_hash
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.RegisteredAt, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrUserNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &u, passwordHash, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RegisteredUser, error) {
	var u models.RegisteredUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, registered_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// MemoryRepository is an in-process UserStore for tests and database-less runs.
// Duplicate emails fail with the same unique-violation error Postgres returns.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*memUser
	byEmail map[string]uuid.UUID
}

type memUser struct {
	user models.RegisteredUser
	hash string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*memUser), byEmail: make(map[string]uuid.UUID)}
}

var _ UserStore = (*MemoryRepository)(nil)

func (m *MemoryRepository) Create(_ context.Context, u *models.RegisteredUser, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"users_email_key\""}
	}
	u.ID = uuid.New()
	u.RegisteredAt = time.Now().UTC()
	m.byID[u.ID] = &memUser{user: *u, hash: passwordHash}
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.RegisteredUser, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, "", ErrUserNotFound
	}
	mu := m.byID[id]
	u := mu.user
	return &u, mu.hash, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.RegisteredUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mu, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := mu.user
	return &u, nil
}
