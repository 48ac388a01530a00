// ABOUTME: Issued-token ledger backing JWT revocation and single-use refresh tokens
// ABOUTME: Rows are keyed by the token's jti claim

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordToken inserts a newly issued token.
func (s *SQLiteStore) RecordToken(ctx context.Context, t *IssuedToken) error {
	query := `
		INSERT INTO issued_tokens (jti, subject, token_type, instance_url, client_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.JTI,
		t.Subject,
		t.TokenType,
		nullString(t.InstanceURL),
		nullString(t.ClientID),
		t.IssuedAt.UTC().Format(time.RFC3339),
		t.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting issued token: %w", err)
	}

	s.logger.Debug("recorded issued token", "jti", t.JTI, "subject", t.Subject, "type", t.TokenType)
	return nil
}

const tokenColumns = `jti, subject, token_type, instance_url, client_id, issued_at, expires_at, revoked_at, replaced_by`

// GetToken returns the ledger row for jti or ErrNotFound.
func (s *SQLiteStore) GetToken(ctx context.Context, jti string) (*IssuedToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM issued_tokens WHERE jti = ?`, jti)

	t, err := scanIssuedToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RevokeToken marks jti revoked. Revoking twice keeps the first timestamp.
func (s *SQLiteStore) RevokeToken(ctx context.Context, jti string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issued_tokens SET revoked_at = COALESCE(revoked_at, ?) WHERE jti = ?`,
		at.UTC().Format(time.RFC3339), jti,
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Info("revoked token", "jti", jti)
	return nil
}

// ConsumeRefreshToken atomically marks a refresh token as replaced by
// replacedBy. It fails with ErrTokenConsumed when the token is unknown,
// already replaced, or revoked.
func (s *SQLiteStore) ConsumeRefreshToken(ctx context.Context, jti, replacedBy string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issued_tokens
		SET replaced_by = ?, revoked_at = ?
		WHERE jti = ? AND token_type = 'refresh' AND replaced_by IS NULL AND revoked_at IS NULL
	`, replacedBy, at.UTC().Format(time.RFC3339), jti)
	if err != nil {
		return fmt.Errorf("consuming refresh token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrTokenConsumed
	}

	s.logger.Debug("rotated refresh token", "jti", jti, "replaced_by", replacedBy)
	return nil
}

// ListTokens returns ledger rows newest first.
func (s *SQLiteStore) ListTokens(ctx context.Context, f TokenFilter) ([]IssuedToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM issued_tokens WHERE 1=1`
	args := []any{}

	if f.Subject != nil {
		query += " AND subject = ?"
		args = append(args, *f.Subject)
	}
	if f.ActiveOnly {
		query += " AND revoked_at IS NULL AND replaced_by IS NULL AND expires_at > ?"
		args = append(args, time.Now().UTC().Format(time.RFC3339))
	}
	query += " ORDER BY issued_at DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issued tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tokens := []IssuedToken{}
	for rows.Next() {
		t, err := scanIssuedToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating issued tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpiredTokens prunes rows that expired before the given time.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM issued_tokens WHERE expires_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned expired tokens", "count", n)
	}
	return n, nil
}

func scanIssuedToken(scanner interface{ Scan(dest ...any) error }) (IssuedToken, error) {
	var t IssuedToken
	var instanceURL, clientID, revokedAt, replacedBy sql.NullString
	var issuedAt, expiresAt string

	if err := scanner.Scan(
		&t.JTI,
		&t.Subject,
		&t.TokenType,
		&instanceURL,
		&clientID,
		&issuedAt,
		&expiresAt,
		&revokedAt,
		&replacedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scanning issued token: %w", err)
	}

	t.InstanceURL = instanceURL.String
	t.ClientID = clientID.String
	t.ReplacedBy = replacedBy.String

	var err error
	if t.IssuedAt, err = time.Parse(time.RFC3339, issuedAt); err != nil {
		return t, fmt.Errorf("parsing issued_at: %w", err)
	}
	if t.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return t, fmt.Errorf("parsing expires_at: %w", err)
	}
	if revokedAt.Valid {
		ts, err := time.Parse(time.RFC3339, revokedAt.String)
		if err != nil {
			return t, fmt.Errorf("parsing revoked_at: %w", err)
		}
		t.RevokedAt = &ts
	}
	return t, nil
}
