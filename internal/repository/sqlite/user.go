package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore persists accounts in the users table.
type UserStore struct {
	conn *sql.DB
}

const userColumns = `id, username, email, password_hash, first_name, last_name, created_at`

// Create inserts a user and returns its id. Username and email are
// lowercased before the write so the UNIQUE constraints are
// case-insensitive. user.ID, Username, Email and CreatedAt are updated in
// place.
//
// A UNIQUE violation is mapped to apperror.DuplicateUsername or
// apperror.DuplicateEmail depending on which constraint the driver names.
func (s *UserStore) Create(ctx context.Context, user *model.User) (int64, error) {
	user.Username = strings.ToLower(user.Username)
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now().UTC()

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.PasswordHash,
		nullString(user.FirstName),
		nullString(user.LastName),
		user.CreatedAt,
	)
	if err != nil {
		switch {
		case isConstraintViolation(err, "username"):
			return 0, apperror.DuplicateUsername()
		case isConstraintViolation(err, "email"):
			return 0, apperror.DuplicateEmail()
		}
		return 0, fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	user.ID = id
	return id, nil
}

// GetByID retrieves a user by id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByUsername looks a user up by username, ignoring case.
// Returns (nil, nil) when no such user exists.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getBy(ctx, "username", username)
}

// GetByEmail looks a user up by email, ignoring case.
// Returns (nil, nil) when no such user exists.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *UserStore) getBy(ctx context.Context, col, value string) (*model.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+col+` = ?`,
		strings.ToLower(strings.TrimSpace(value)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", col, err)
	}
	return u, nil
}

// UpdatePassword replaces the stored digest. Last write wins.
func (s *UserStore) UpdatePassword(ctx context.Context, id int64, digest string) error {
	return s.update(ctx, id, `UPDATE users SET password_hash = ? WHERE id = ?`, digest, id)
}

// UpdateProfile replaces first and last name. Empty values are stored as NULL.
func (s *UserStore) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error {
	return s.update(ctx, id,
		`UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`,
		nullString(firstName), nullString(lastName), id,
	)
}

func (s *UserStore) update(ctx context.Context, id int64, query string, args ...any) error {
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                   model.User
		firstName, lastName sql.NullString
		createdAt           sql.NullTime
	)
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&firstName,
		&lastName,
		&createdAt,
	); err != nil {
		return nil, err
	}
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.CreatedAt = createdAt.Time
	return &u, nil
}
