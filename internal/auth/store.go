package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ibero-data/licensor/internal/database"
)

// Store persists admin accounts in the admins table.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create adds an admin with a bcrypt hashed password.
func (s *Store) Create(ctx context.Context, email, password, name string) (*Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address %q", email)
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin id: %w", err)
	}

	now := time.Now().UnixMilli()
	admin := &Admin{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.Conn().ExecContext(ctx, s.db.Rebind(
		"INSERT INTO admins (id, email, password_hash, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"),
		admin.ID, admin.Email, admin.PasswordHash, admin.Name, admin.CreatedAt, admin.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAdminExists
		}
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	return admin, nil
}

// GetByEmail looks an admin up by (case-insensitive) email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Admin, error) {
	var a Admin
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		"SELECT id, email, password_hash, name, created_at, updated_at FROM admins WHERE email = ?"),
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	return &a, nil
}

// Authenticate returns the admin when password matches. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Admin, error) {
	a, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrAdminNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, a.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

func (s *Store) List(ctx context.Context) ([]*Admin, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT id, email, name, created_at, updated_at FROM admins ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	admins := make([]*Admin, 0)
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, &a)
	}
	return admins, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM admins").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

// Delete removes the admin with email.
func (s *Store) Delete(ctx context.Context, email string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind("DELETE FROM admins WHERE email = ?"),
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdminNotFound
	}
	return nil
}
