package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolioshare/internal/domain"
	"portfolioshare/internal/events"
	"portfolioshare/internal/repo"
)

// SharedPortfolio is what a share token resolves to.
type SharedPortfolio struct {
	ShareID          string         `json:"share_id"`
	OwnerName        string         `json:"owner_name"`
	ShareTitle       string         `json:"share_title,omitempty"`
	ShareDescription string         `json:"share_description,omitempty"`
	Entries          []domain.Entry `json:"entries"`
}

// resolve looks a token up. An unknown token is ErrShareNotFound; a known but
// revoked or lapsed one is ErrShareExpired and still returns the share.
func (e Engine) resolve(ctx context.Context, tx *sql.Tx, token string) (domain.Share, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Share{}, ErrShareNotFound
	}
	s, err := e.Repo.GetShareByHash(ctx, tx, repo.HashToken(token))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Share{}, ErrShareNotFound
	}
	if err != nil {
		return domain.Share{}, err
	}
	if Expired(s, e.now()) {
		return s, ErrShareExpired
	}
	return s, nil
}

// ResolveShare returns the share behind token if it still grants access.
func (e Engine) ResolveShare(ctx context.Context, token string) (domain.Share, error) {
	return e.resolve(ctx, nil, token)
}

// SharedEntries resolves token to its owner, metadata and visible entries.
// Files kept in the bucket get a fresh presigned URL.
func (e Engine) SharedEntries(ctx context.Context, token string) (SharedPortfolio, error) {
	s, err := e.resolve(ctx, nil, token)
	if err != nil {
		return SharedPortfolio{}, err
	}
	p, err := e.Repo.GetPortfolio(ctx, nil, s.PortfolioID)
	if err != nil {
		return SharedPortfolio{}, fmt.Errorf("portfolio %s: %w", s.PortfolioID, err)
	}
	entries, err := e.Repo.ListEntries(ctx, s.PortfolioID, s.Categories)
	if err != nil {
		return SharedPortfolio{}, err
	}
	for i := range entries {
		for j := range entries[i].Files {
			e.presignFile(ctx, &entries[i].Files[j])
		}
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	return SharedPortfolio{
		ShareID:          s.ID,
		OwnerName:        p.OwnerName,
		ShareTitle:       s.Title,
		ShareDescription: s.Description,
		Entries:          entries,
	}, nil
}

func (e Engine) presignFile(ctx context.Context, f *domain.EvidenceFile) {
	if e.Presigner == nil || f.StorageKey == "" {
		return
	}
	url, err := e.Presigner.PresignGet(ctx, f.StorageKey)
	if err != nil {
		e.log().Warn("presign evidence file failed", zap.String("file_id", f.ID), zap.Error(err))
		return
	}
	f.FileURL = url
}

// SharedComments returns every comment made through the share in server order.
func (e Engine) SharedComments(ctx context.Context, token string) ([]domain.Comment, error) {
	s, err := e.resolve(ctx, nil, token)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, s.ID)
}

// SharedSubmissions returns the submissions of the share's portfolio within
// its visible categories.
func (e Engine) SharedSubmissions(ctx context.Context, token string) ([]domain.Submission, error) {
	s, err := e.resolve(ctx, nil, token)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListSubmissions(ctx, repo.SubmissionFilters{PortfolioID: s.PortfolioID, Categories: s.Categories})
}

// CommentInput is a comment left through a share.
type CommentInput struct {
	AuthorName string
	AuthorRole string
	Content    string
	EvidenceID string
	ParentID   string
}

func (in CommentInput) validate() error {
	if strings.TrimSpace(in.AuthorName) == "" {
		return invalid("author name is required")
	}
	if !domain.IsReviewerRole(in.AuthorRole) {
		return invalid("unknown author role %q", in.AuthorRole)
	}
	if strings.TrimSpace(in.Content) == "" {
		return invalid("comment content is required")
	}
	if strings.TrimSpace(in.EvidenceID) == "" {
		return invalid("evidence id is required")
	}
	return nil
}

func visible(s domain.Share, category string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// AddComment stores a comment on one of the share's visible entries.
func (e Engine) AddComment(ctx context.Context, token string, in CommentInput) (domain.Comment, error) {
	if err := in.validate(); err != nil {
		return domain.Comment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	s, err := e.resolve(ctx, tx, token)
	if err != nil {
		return domain.Comment{}, err
	}
	entry, err := e.Repo.GetEntry(ctx, tx, in.EvidenceID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && (entry.PortfolioID != s.PortfolioID || !visible(s, entry.CategoryName))) {
		return domain.Comment{}, invalid("evidence %s is not part of this share", in.EvidenceID)
	}
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:             uuid.NewString(),
		ShareID:        s.ID,
		ContextID:      entry.ID,
		AuthorName:     strings.TrimSpace(in.AuthorName),
		AuthorRole:     in.AuthorRole,
		AuthorInitials: domain.Initials(in.AuthorName),
		Content:        strings.TrimSpace(in.Content),
		CreatedAt:      e.stamp(),
	}
	if parentID := strings.TrimSpace(in.ParentID); parentID != "" {
		parent, err := e.Repo.GetComment(ctx, tx, parentID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && (parent.ShareID != s.ID || parent.ContextID != c.ContextID)) {
			return domain.Comment{}, invalid("parent comment must be on the same evidence")
		}
		if err != nil {
			return domain.Comment{}, err
		}
		c.ParentID = &parent.ID
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Record{
		Type: events.CommentAdded, ShareID: s.ID, EntityKind: "comment", EntityID: c.ID, Actor: reviewerActor(c.AuthorName),
		Payload: events.Payload{"context_id": c.ContextID, "parent_id": c.ParentID, "author_role": c.AuthorRole},
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func reviewerActor(name string) string {
	return "reviewer:" + strings.TrimSpace(name)
}
