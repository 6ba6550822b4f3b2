package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolioshare/internal/config"
	"portfolioshare/internal/domain"
	"portfolioshare/internal/events"
	"portfolioshare/internal/repo"
	"portfolioshare/internal/storage"
)

var (
	ErrNotFound          = repo.ErrNotFound
	ErrInvalidInput      = errors.New("invalid input")
	ErrShareNotFound     = errors.New("share not found")
	ErrShareExpired      = errors.New("share link has expired or been revoked")
	ErrInvalidTransition = errors.New("invalid submission status transition")
)

const ownerActor = "owner"

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Presigner storage.Presigner
	Log       *zap.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cleanList(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NewToken returns a fresh share token. Only its hash is ever stored.
func NewToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (e Engine) CreatePortfolio(ctx context.Context, ownerName string) (domain.Portfolio, error) {
	ownerName = strings.TrimSpace(ownerName)
	if ownerName == "" {
		return domain.Portfolio{}, invalid("owner name is required")
	}
	p := domain.Portfolio{ID: uuid.NewString(), OwnerName: ownerName, CreatedAt: e.stamp()}
	if err := e.Repo.InsertPortfolio(ctx, p); err != nil {
		return domain.Portfolio{}, fmt.Errorf("insert portfolio: %w", err)
	}
	return p, nil
}

// EntryOptions are parameters for adding a piece of evidence.
type EntryOptions struct {
	PortfolioID     string
	Title           string
	Description     string
	CategoryName    string
	Skills          []string
	ReflectionNotes string
	TimeSpent       int
	Status          string
}

func (e Engine) AddEntry(ctx context.Context, opts EntryOptions) (domain.Entry, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Entry{}, invalid("title is required")
	}
	if strings.TrimSpace(opts.CategoryName) == "" {
		return domain.Entry{}, invalid("category is required")
	}
	if opts.TimeSpent < 0 {
		return domain.Entry{}, invalid("time spent cannot be negative")
	}
	if _, err := e.Repo.GetPortfolio(ctx, nil, opts.PortfolioID); err != nil {
		return domain.Entry{}, fmt.Errorf("portfolio %s: %w", opts.PortfolioID, err)
	}
	status := strings.TrimSpace(opts.Status)
	if status == "" {
		status = "completed"
	}
	skills := cleanList(opts.Skills)
	if skills == nil {
		skills = []string{}
	}
	entry := domain.Entry{
		ID:                 uuid.NewString(),
		PortfolioID:        opts.PortfolioID,
		Title:              strings.TrimSpace(opts.Title),
		Description:        strings.TrimSpace(opts.Description),
		CategoryName:       strings.TrimSpace(opts.CategoryName),
		SkillsDemonstrated: skills,
		ReflectionNotes:    strings.TrimSpace(opts.ReflectionNotes),
		TimeSpent:          opts.TimeSpent,
		Status:             status,
		CreatedAt:          e.stamp(),
		Files:              []domain.EvidenceFile{},
	}
	if err := e.Repo.InsertEntry(ctx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return entry, nil
}

// FileOptions describe an evidence file. With Upload set the file is stored in
// the configured bucket and an upload URL is returned alongside it.
type FileOptions struct {
	EntryID  string
	FileName string
	FileType string
	FileSize int64
	FileURL  string
	Upload   bool
}

func (e Engine) AddFile(ctx context.Context, opts FileOptions) (domain.EvidenceFile, string, error) {
	if strings.TrimSpace(opts.FileName) == "" {
		return domain.EvidenceFile{}, "", invalid("file name is required")
	}
	if opts.FileSize < 0 {
		return domain.EvidenceFile{}, "", invalid("file size cannot be negative")
	}
	if !opts.Upload && strings.TrimSpace(opts.FileURL) == "" {
		return domain.EvidenceFile{}, "", invalid("file url is required unless uploading")
	}
	entry, err := e.Repo.GetEntry(ctx, nil, opts.EntryID)
	if err != nil {
		return domain.EvidenceFile{}, "", fmt.Errorf("entry %s: %w", opts.EntryID, err)
	}
	fileType := strings.TrimSpace(opts.FileType)
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	f := domain.EvidenceFile{
		ID:       uuid.NewString(),
		EntryID:  entry.ID,
		FileName: strings.TrimSpace(opts.FileName),
		FileType: fileType,
		FileSize: opts.FileSize,
		FileURL:  strings.TrimSpace(opts.FileURL),
	}
	var uploadURL string
	if opts.Upload {
		if e.Presigner == nil {
			return domain.EvidenceFile{}, "", errors.New("file storage is not configured")
		}
		f.StorageKey = storage.NewKey(entry.PortfolioID, entry.ID, f.FileName, e.now())
		uploadURL, err = e.Presigner.PresignPut(ctx, f.StorageKey, f.FileType)
		if err != nil {
			return domain.EvidenceFile{}, "", err
		}
	}
	if err := e.Repo.InsertFile(ctx, f); err != nil {
		return domain.EvidenceFile{}, "", fmt.Errorf("insert file: %w", err)
	}
	return f, uploadURL, nil
}

// ShareOptions are parameters for a new share link.
type ShareOptions struct {
	PortfolioID string
	Title       string
	Description string
	Categories  []string
	// TTL of zero creates a link that never expires.
	TTL time.Duration
}

// CreateShare issues a new share and returns it with its raw token. The token
// cannot be recovered later.
func (e Engine) CreateShare(ctx context.Context, opts ShareOptions) (domain.Share, string, error) {
	if opts.TTL < 0 {
		return domain.Share{}, "", invalid("ttl cannot be negative")
	}
	if _, err := e.Repo.GetPortfolio(ctx, nil, opts.PortfolioID); err != nil {
		return domain.Share{}, "", fmt.Errorf("portfolio %s: %w", opts.PortfolioID, err)
	}
	token, err := NewToken()
	if err != nil {
		return domain.Share{}, "", err
	}
	now := e.now().UTC()
	s := domain.Share{
		ID:          uuid.NewString(),
		PortfolioID: opts.PortfolioID,
		TokenHash:   repo.HashToken(token),
		Title:       strings.TrimSpace(opts.Title),
		Description: strings.TrimSpace(opts.Description),
		Categories:  cleanList(opts.Categories),
		CreatedAt:   now.Format(time.RFC3339),
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL).Format(time.RFC3339)
		s.ExpiresAt = &exp
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Share{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertShare(ctx, tx, s); err != nil {
		return domain.Share{}, "", fmt.Errorf("insert share: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Record{
		Type: events.ShareCreated, ShareID: s.ID, EntityKind: "share", EntityID: s.ID, Actor: ownerActor,
		Payload: events.Payload{"portfolio_id": s.PortfolioID, "categories": s.Categories, "expires_at": s.ExpiresAt},
	}); err != nil {
		return domain.Share{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Share{}, "", err
	}
	return s, token, nil
}

func (e Engine) RevokeShare(ctx context.Context, shareID string) (domain.Share, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Share{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeShare(ctx, tx, shareID, e.stamp()); err != nil {
		return domain.Share{}, fmt.Errorf("share %s: %w", shareID, err)
	}
	s, err := e.Repo.GetShare(ctx, tx, shareID)
	if err != nil {
		return domain.Share{}, err
	}
	if err := e.events().Append(ctx, tx, events.Record{
		Type: events.ShareRevoked, ShareID: s.ID, EntityKind: "share", EntityID: s.ID, Actor: ownerActor,
	}); err != nil {
		return domain.Share{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Share{}, err
	}
	return s, nil
}

func (e Engine) ListShares(ctx context.Context, portfolioID string) ([]domain.Share, error) {
	return e.Repo.ListShares(ctx, portfolioID)
}

// Expired reports whether s no longer grants access at now.
func Expired(s domain.Share, now time.Time) bool {
	if s.RevokedAt != nil {
		return true
	}
	if s.ExpiresAt == nil {
		return false
	}
	exp, err := time.Parse(time.RFC3339, *s.ExpiresAt)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}
