package repo

import (
	"context"
	"database/sql"
	"errors"

	"portfolioshare/internal/domain"
)

// InsertComment appends a comment to its share's ordered log.
func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	q := r.q(tx)
	var seq int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM comments WHERE share_id=?`, c.ShareID).Scan(&seq); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO comments(id,share_id,context_id,parent_id,author_name,author_role,author_initials,content,requires_action,is_resolved,created_at,seq)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ShareID, c.ContextID, nullableStringPtr(c.ParentID), c.AuthorName, c.AuthorRole, c.AuthorInitials, c.Content,
		c.RequiresAction, c.IsResolved, c.CreatedAt, seq)
	return err
}

const commentColumns = `id,share_id,context_id,parent_id,author_name,author_role,author_initials,content,requires_action,is_resolved,created_at`

func scanComment(scan func(dest ...any) error) (domain.Comment, error) {
	var c domain.Comment
	var parent sql.NullString
	err := scan(&c.ID, &c.ShareID, &c.ContextID, &parent, &c.AuthorName, &c.AuthorRole, &c.AuthorInitials, &c.Content, &c.RequiresAction, &c.IsResolved, &c.CreatedAt)
	c.ParentID = stringPtr(parent)
	return c, err
}

func (r Repo) GetComment(ctx context.Context, tx *sql.Tx, id string) (domain.Comment, error) {
	c, err := scanComment(r.q(tx).QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// ListComments returns every comment made through a share in insertion order.
func (r Repo) ListComments(ctx context.Context, shareID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE share_id=? ORDER BY seq`, shareID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
