// internal/database/user.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quizwire/quizwire/internal/auth"
)

// ErrUsernameTaken is returned by CreateUser when the username is already
// registered.
var ErrUsernameTaken = errors.New("username already taken")

// User is a registered account. Wins counts quiz victories awarded via the
// scoreboard endpoint.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Wins      int       `json:"wins"`
	CreatedAt time.Time `json:"createdAt"`

	passwordHash string
}

// CreateUser hashes the password and inserts the account. Username
// uniqueness is enforced by the table constraint; a conflict surfaces as
// ErrUsernameTaken.
func CreateUser(ctx context.Context, username, password string) (*User, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user id: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{ID: id, Username: username, passwordHash: hash, CreatedAt: time.Now()}

	q := `INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)`
	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, u.ID, u.Username, u.passwordHash)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

// GetUserByUsername loads an account by its unique username.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	q := `SELECT id, username, password_hash, wins, created_at FROM users WHERE username=$1`
	err := DB.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.passwordHash, &u.Wins, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID loads an account by id, typically the subject of a session
// token.
func GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	q := `SELECT id, username, password_hash, wins, created_at FROM users WHERE id=$1`
	err := DB.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.passwordHash, &u.Wins, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AuthenticateUser verifies credentials and mints a session token.
func AuthenticateUser(ctx context.Context, username, password string) (*User, string, error) {
	u, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("user not found or db error: %w", err)
	}

	match, err := auth.VerifyPassword(password, u.passwordHash)
	if err != nil || !match {
		return nil, "", fmt.Errorf("invalid credentials")
	}

	token, err := auth.CreateToken(u.ID.String())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}
	return u, token, nil
}

// AwardWin atomically increments the win counter for username.
func AwardWin(ctx context.Context, username string) error {
	q := `UPDATE users SET wins = wins + 1 WHERE username=$1`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, username)
		return err
	})
}

// TopWinners returns up to limit users ordered by wins descending, ties
// broken by username.
func TopWinners(ctx context.Context, limit int) ([]User, error) {
	q := `SELECT id, username, password_hash, wins, created_at
	      FROM users ORDER BY wins DESC, username ASC LIMIT $1`
	rows, err := DB.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.passwordHash, &u.Wins, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
