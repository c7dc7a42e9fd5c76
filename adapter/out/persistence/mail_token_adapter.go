// Package persistence provides database and Redis adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/out"
	"mailflow_server/pkg/crypto"
	"mailflow_server/pkg/logger"
)

const tokenColumns = `id, email, access_token, refresh_token, expiry, created_at, updated_at`

// TokenAdapter implements out.TokenRepository on sqlx. The table holds at
// most one credential.
type TokenAdapter struct {
	db        *sqlx.DB
	encryptor *crypto.Encryptor
	now       func() time.Time
}

var _ out.TokenRepository = (*TokenAdapter)(nil)

// NewTokenAdapter creates a token adapter. A nil encryptor stores tokens in
// plain text.
func NewTokenAdapter(db *sqlx.DB, encryptor *crypto.Encryptor) *TokenAdapter {
	if encryptor == nil {
		logger.Warn("Token encryption disabled")
	}
	return &TokenAdapter{db: db, encryptor: encryptor, now: time.Now}
}

// Migrate creates the token table when missing.
func (a *TokenAdapter) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, tokenSchema(a.db.DriverName())); err != nil {
		return fmt.Errorf("create gmail_tokens: %w", err)
	}
	return nil
}

func tokenSchema(driver string) string {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "TIMESTAMP"
	if driver == "pgx" || driver == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS gmail_tokens (
			id            %s,
			email         TEXT NOT NULL UNIQUE,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expiry        %s,
			created_at    %s NOT NULL,
			updated_at    %s NOT NULL
		)`, idType, tsType, tsType, tsType)
}

// Save updates the first stored row, or inserts one when the table is empty.
func (a *TokenAdapter) Save(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	access, err := a.encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := a.encrypt(token.RefreshToken)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	expiry := token.Expiry.UTC()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	err = tx.GetContext(ctx, &existingID, a.db.Rebind(`SELECT id FROM gmail_tokens ORDER BY id LIMIT 1`))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.GetContext(ctx, &existingID, a.db.Rebind(`
			INSERT INTO gmail_tokens (email, access_token, refresh_token, expiry, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`),
			token.Email, access, refresh, expiry, now, now)
		if err != nil {
			return nil, fmt.Errorf("insert token: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find token: %w", err)
	default:
		query := `
			UPDATE gmail_tokens
			SET email = ?, access_token = ?, expiry = ?, updated_at = ?
			WHERE id = ?`
		args := []any{token.Email, access, expiry, now, existingID}
		if refresh != "" {
			query = `
				UPDATE gmail_tokens
				SET email = ?, access_token = ?, refresh_token = ?, expiry = ?, updated_at = ?
				WHERE id = ?`
			args = []any{token.Email, access, refresh, expiry, now, existingID}
		}
		if _, err := tx.ExecContext(ctx, a.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("update token: %w", err)
		}
	}

	var saved domain.Token
	if err := tx.GetContext(ctx, &saved, a.db.Rebind(`SELECT `+tokenColumns+` FROM gmail_tokens WHERE id = ?`), existingID); err != nil {
		return nil, fmt.Errorf("reload token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.decryptEntity(&saved)
	return &saved, nil
}

// Get returns the stored credential.
func (a *TokenAdapter) Get(ctx context.Context) (*domain.Token, error) {
	return a.getOne(ctx, `SELECT `+tokenColumns+` FROM gmail_tokens ORDER BY id LIMIT 1`)
}

// GetByEmail returns the credential for email.
func (a *TokenAdapter) GetByEmail(ctx context.Context, email string) (*domain.Token, error) {
	return a.getOne(ctx, `SELECT `+tokenColumns+` FROM gmail_tokens WHERE email = ? LIMIT 1`, email)
}

// Clear deletes every stored credential.
func (a *TokenAdapter) Clear(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM gmail_tokens`)
	return err
}

func (a *TokenAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *TokenAdapter) getOne(ctx context.Context, query string, args ...any) (*domain.Token, error) {
	var t domain.Token
	if err := a.db.GetContext(ctx, &t, a.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, out.ErrTokenNotFound
		}
		return nil, err
	}
	a.decryptEntity(&t)
	return &t, nil
}

func (a *TokenAdapter) encrypt(value string) (string, error) {
	if a.encryptor == nil || value == "" {
		return value, nil
	}
	enc, err := a.encryptor.Encrypt(value)
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return enc, nil
}

// decryptToken returns legacy plain-text values unchanged.
func (a *TokenAdapter) decryptToken(value string) string {
	if a.encryptor == nil || value == "" || !crypto.IsEncrypted(value) {
		return value
	}
	dec, err := a.encryptor.Decrypt(value)
	if err != nil {
		return value
	}
	return dec
}

func (a *TokenAdapter) decryptEntity(t *domain.Token) {
	t.AccessToken = a.decryptToken(t.AccessToken)
	t.RefreshToken = a.decryptToken(t.RefreshToken)
}
