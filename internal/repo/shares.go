package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"portfolioshare/internal/domain"
)

// HashToken returns the stable SHA-256 hex digest a share token is stored under.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertShare stores a share. TokenHash must already contain the hashed value.
func (r Repo) InsertShare(ctx context.Context, tx *sql.Tx, s domain.Share) error {
	if s.ID == "" {
		return errors.New("id required")
	}
	if s.PortfolioID == "" {
		return errors.New("portfolio_id required")
	}
	if s.TokenHash == "" {
		return errors.New("token_hash required")
	}
	cats, err := marshalList(s.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO shares(id,portfolio_id,token_hash,title,description,categories_json,expires_at,revoked_at,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.PortfolioID, s.TokenHash, nullable(s.Title), nullable(s.Description), cats, nullableStringPtr(s.ExpiresAt), nullableStringPtr(s.RevokedAt), s.CreatedAt)
	return err
}

const shareColumns = `id,portfolio_id,token_hash,COALESCE(title,''),COALESCE(description,''),categories_json,expires_at,revoked_at,created_at`

func scanShare(row *sql.Row) (domain.Share, error) {
	var s domain.Share
	var cats string
	var expires, revoked sql.NullString
	err := row.Scan(&s.ID, &s.PortfolioID, &s.TokenHash, &s.Title, &s.Description, &cats, &expires, &revoked, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	list, err := unmarshalList(cats)
	if err != nil {
		return s, fmt.Errorf("share %s categories: %w", s.ID, err)
	}
	if len(list) > 0 {
		s.Categories = list
	}
	s.ExpiresAt = stringPtr(expires)
	s.RevokedAt = stringPtr(revoked)
	return s, nil
}

// GetShareByHash returns the share stored under a hashed token.
func (r Repo) GetShareByHash(ctx context.Context, tx *sql.Tx, hash string) (domain.Share, error) {
	return scanShare(r.q(tx).QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE token_hash=? LIMIT 1`, hash))
}

func (r Repo) GetShare(ctx context.Context, tx *sql.Tx, id string) (domain.Share, error) {
	return scanShare(r.q(tx).QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id=?`, id))
}

// ListShares returns a portfolio's shares, newest first.
func (r Repo) ListShares(ctx context.Context, portfolioID string) ([]domain.Share, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM shares WHERE portfolio_id=? ORDER BY created_at DESC, id`, portfolioID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Share, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetShare(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// RevokeShare marks a share revoked. Revoking twice keeps the first timestamp.
func (r Repo) RevokeShare(ctx context.Context, tx *sql.Tx, id, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE shares SET revoked_at=COALESCE(revoked_at,?) WHERE id=?`, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
