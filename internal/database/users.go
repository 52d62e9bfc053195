package database

import (
	"context"
	"database/sql"
	"errors"

	"songmap/internal/apperr"
	"songmap/pkg/models"
)

const userColumns = `id, username, password_hash, avatar, role, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.Role, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// CreateUser inserts u and fills in its ID and creation time. A taken
// username fails with Conflict.
func (db *Database) CreateUser(ctx context.Context, u *models.User) error {
	now := db.now()
	id, err := once(ctx, db, "create_user", func(ctx context.Context) (int64, error) {
		result, err := db.conn.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, avatar, role, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			u.Username, u.PasswordHash, u.Avatar, u.Role, toMillis(now))
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return apperr.Wrap(apperr.KindConflict, err, "username %q is already taken", u.Username)
		}
		return err
	}

	u.ID = id
	u.CreatedAt = fromMillis(toMillis(now))
	db.logger.WithField("username", u.Username).Info("Created user")
	return nil
}

// GetUserByUsername returns the account called username
func (db *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return retried(ctx, db, "get_user", func(ctx context.Context) (*models.User, error) {
		u, err := scanUser(db.conn.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user")
		}
		return u, err
	})
}

// GetUserByID returns the account with id
func (db *Database) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return retried(ctx, db, "get_user", func(ctx context.Context) (*models.User, error) {
		u, err := scanUser(db.conn.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user")
		}
		return u, err
	})
}
