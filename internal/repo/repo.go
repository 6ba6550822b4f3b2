package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"portfolioshare/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs against tx when one is open, the pool otherwise.
func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r Repo) InsertPortfolio(ctx context.Context, p domain.Portfolio) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO portfolios(id,owner_name,created_at) VALUES (?,?,?)`, p.ID, p.OwnerName, p.CreatedAt)
	return err
}

func (r Repo) GetPortfolio(ctx context.Context, tx *sql.Tx, id string) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,owner_name,created_at FROM portfolios WHERE id=?`, id).Scan(&p.ID, &p.OwnerName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_name,created_at FROM portfolios ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.OwnerName, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertEntry(ctx context.Context, e domain.Entry) error {
	skills, err := marshalList(e.SkillsDemonstrated)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO entries(id,portfolio_id,title,description,category_name,skills_json,reflection_notes,time_spent,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.PortfolioID, e.Title, nullable(e.Description), e.CategoryName, skills, nullable(e.ReflectionNotes), e.TimeSpent, e.Status, e.CreatedAt)
	return err
}

const entryColumns = `id,portfolio_id,title,COALESCE(description,''),category_name,skills_json,COALESCE(reflection_notes,''),time_spent,status,created_at`

func scanEntry(scan func(dest ...any) error) (domain.Entry, error) {
	var e domain.Entry
	var skills string
	if err := scan(&e.ID, &e.PortfolioID, &e.Title, &e.Description, &e.CategoryName, &skills, &e.ReflectionNotes, &e.TimeSpent, &e.Status, &e.CreatedAt); err != nil {
		return e, err
	}
	list, err := unmarshalList(skills)
	if err != nil {
		return e, fmt.Errorf("entry %s skills: %w", e.ID, err)
	}
	e.SkillsDemonstrated = list
	e.Files = []domain.EvidenceFile{}
	return e, nil
}

func (r Repo) GetEntry(ctx context.Context, tx *sql.Tx, id string) (domain.Entry, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id=?`, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// ListEntries returns a portfolio's entries with their files, oldest first. A
// non-empty categories list restricts the result to those category names.
func (r Repo) ListEntries(ctx context.Context, portfolioID string, categories []string) ([]domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE portfolio_id=?`
	args := []any{portfolioID}
	if len(categories) > 0 {
		query += ` AND category_name IN (` + placeholders(len(categories)) + `)`
		for _, c := range categories {
			args = append(args, c)
		}
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Entry
	index := map[string]int{}
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		index[e.ID] = len(res)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	files, err := r.listFilesForPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if i, ok := index[f.EntryID]; ok {
			res[i].Files = append(res[i].Files, f)
		}
	}
	return res, nil
}

func (r Repo) InsertFile(ctx context.Context, f domain.EvidenceFile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO evidence_files(id,entry_id,file_name,file_type,file_size,file_url,storage_key) VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.EntryID, f.FileName, f.FileType, f.FileSize, nullable(f.FileURL), nullable(f.StorageKey))
	return err
}

func (r Repo) listFilesForPortfolio(ctx context.Context, portfolioID string) ([]domain.EvidenceFile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT f.id,f.entry_id,f.file_name,f.file_type,f.file_size,COALESCE(f.file_url,''),COALESCE(f.storage_key,'')
FROM evidence_files f JOIN entries e ON e.id=f.entry_id WHERE e.portfolio_id=? ORDER BY f.rowid`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EvidenceFile
	for rows.Next() {
		var f domain.EvidenceFile
		if err := rows.Scan(&f.ID, &f.EntryID, &f.FileName, &f.FileType, &f.FileSize, &f.FileURL, &f.StorageKey); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

const eventColumns = `id,ts,type,COALESCE(share_id,''),entity_kind,COALESCE(entity_id,''),actor,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ShareID, &e.EntityKind, &e.EntityID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events first, optionally filtered by type.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if evtType != "" {
		query += ` WHERE type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
