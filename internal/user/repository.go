package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"chatsync/internal/db"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := r.db.Rebind("INSERT INTO users (id, email, name, password) VALUES (?, ?, ?, ?)")

	if _, err := r.db.Conn.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.Password); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	query := r.db.Rebind("SELECT id, email, name, password FROM users WHERE email = ?")

	err := r.db.Conn.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Email, &u.Name, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return u, nil
}

// ListUsers returns everyone except the given email, ordered by name.
func (r *Repository) ListUsers(ctx context.Context, exceptEmail string) ([]User, error) {
	q := r.db.Rebind(`SELECT id, email, name FROM users WHERE email <> ? ORDER BY name, email`)
	return r.queryUsers(ctx, q, exceptEmail)
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// LOWER + LIKE works the same on Postgres and SQLite. Limit 10 keeps it fast.
	q := r.db.Rebind(`SELECT id, email, name FROM users
		WHERE LOWER(name) LIKE ? OR LOWER(email) LIKE ?
		ORDER BY name LIMIT 10`)
	pattern := "%" + strings.ToLower(query) + "%"
	return r.queryUsers(ctx, q, pattern, pattern)
}

func (r *Repository) queryUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
