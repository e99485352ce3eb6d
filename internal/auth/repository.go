package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Postgres-backed UserStore. Every counter and lock
// mutation is a single statement so concurrent logins never lose updates.
type Repository struct {
	db *sql.DB
}

var _ UserStore = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	id, username, email, full_name, password_hash,
	failed_attempts, locked_until, password_changed_at,
	last_login_at, created_at, updated_at
`

func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username)

	return r.scanUser(ctx, row)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	return r.scanUser(ctx, row)
}

func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin create user tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (
			username, email, full_name, password_hash,
			failed_attempts, password_changed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
		RETURNING id
	`, user.Username, user.Email, user.FullName, user.PasswordHash,
		user.PasswordChangedAt.UTC(), user.CreatedAt.UTC()).Scan(&user.ID)
	if err != nil {
		return User{}, conflictError(err)
	}

	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		`, user.ID, role); err != nil {
			return User{}, fmt.Errorf("insert user role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit create user tx: %w", err)
	}

	return user, nil
}

// UpdatePassword replaces the hash and bumps the password epoch in one
// statement. Tokens stamped with the previous epoch stop validating as soon
// as this commits.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string, changedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, changedAt.UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return requireRow(res)
}

func (r *Repository) IncrementFailedAttempts(ctx context.Context, username string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE username = $1
		RETURNING failed_attempts
	`, username).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}

	return count, nil
}

func (r *Repository) ResetFailedAttempts(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = 0, updated_at = NOW()
		WHERE username = $1
	`, username)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}

	return requireRow(res)
}

func (r *Repository) Lock(ctx context.Context, username string, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked_until = $2, updated_at = NOW()
		WHERE username = $1
	`, username, until.UTC())
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	return requireRow(res)
}

func (r *Repository) Unlock(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked_until = NULL, failed_attempts = 0, updated_at = NOW()
		WHERE username = $1
	`, username)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	return requireRow(res)
}

func (r *Repository) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET last_login_at = $2
		WHERE username = $1
	`, username, at.UTC())
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanUser(ctx context.Context, row rowScanner) (User, error) {
	var user User
	var fullName sql.NullString
	var lockedUntil, lastLoginAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &fullName, &user.PasswordHash,
		&user.FailedAttempts, &lockedUntil, &user.PasswordChangedAt,
		&lastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}

	user.FullName = fullName.String
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}
	if lastLoginAt.Valid {
		value := lastLoginAt.Time.UTC()
		user.LastLoginAt = &value
	}

	roles, err := r.loadRoles(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles

	return user, nil
}

func (r *Repository) loadRoles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0, 2)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}

	return roles, nil
}

// conflictError maps a unique-constraint violation onto the registration
// conflict the service surfaces.
func conflictError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return ErrUsernameTaken
		case "users_email_key":
			return ErrEmailTaken
		}
	}
	return fmt.Errorf("insert user: %w", err)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
