package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"portfolioshare/internal/domain"
	"portfolioshare/internal/events"
	"portfolioshare/internal/repo"
)

// DefaultActionRequired is recorded when more evidence is requested without
// saying what.
const DefaultActionRequired = "Additional evidence required"

// ReviewInput is a review left through a share.
type ReviewInput struct {
	SubmissionID        string
	ReviewerName        string
	ReviewerRole        string
	Action              string
	Feedback            string
	Grade               string
	ActionRequired      string
	Strengths           string
	AreasForImprovement string
}

func (in ReviewInput) validate() error {
	if strings.TrimSpace(in.SubmissionID) == "" {
		return invalid("submission id is required")
	}
	if strings.TrimSpace(in.ReviewerName) == "" {
		return invalid("reviewer name is required")
	}
	if !domain.IsReviewerRole(in.ReviewerRole) {
		return invalid("unknown reviewer role %q", in.ReviewerRole)
	}
	if !domain.IsAction(in.Action) {
		return invalid("unknown review action %q", in.Action)
	}
	if g := strings.TrimSpace(in.Grade); g != "" && !domain.IsGrade(g) {
		return invalid("unknown grade %q", g)
	}
	if in.Action == domain.ActionSendBack && strings.TrimSpace(in.Feedback) == "" {
		return invalid("feedback is required to send back")
	}
	return nil
}

// reviewTarget is the status a pending submission moves to under action.
func reviewTarget(status, action string) (string, error) {
	if !domain.IsPending(status) {
		return "", fmt.Errorf("%w: %s cannot be reviewed", ErrInvalidTransition, status)
	}
	switch action {
	case domain.ActionApprove:
		return domain.StatusApproved, nil
	case domain.ActionSendBack, domain.ActionRequestMoreEvidence:
		return domain.StatusFeedbackGiven, nil
	}
	return "", fmt.Errorf("%w: unknown action %s", ErrInvalidTransition, action)
}

// Review applies a reviewer's decision to a pending submission visible
// through the share.
func (e Engine) Review(ctx context.Context, token string, in ReviewInput) (domain.Submission, error) {
	if err := in.validate(); err != nil {
		return domain.Submission{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	s, err := e.resolve(ctx, tx, token)
	if err != nil {
		return domain.Submission{}, err
	}
	sub, err := e.Repo.GetSubmission(ctx, tx, in.SubmissionID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && (sub.PortfolioID != s.PortfolioID || !visible(s, sub.CategoryName))) {
		return domain.Submission{}, invalid("submission %s is not part of this share", in.SubmissionID)
	}
	if err != nil {
		return domain.Submission{}, err
	}
	to, err := reviewTarget(sub.Status, in.Action)
	if err != nil {
		return domain.Submission{}, err
	}
	from := sub.Status
	now := e.stamp()
	actionRequired := optionalString(in.ActionRequired)
	if in.Action == domain.ActionRequestMoreEvidence && actionRequired == nil {
		def := DefaultActionRequired
		actionRequired = &def
	}
	name := strings.TrimSpace(in.ReviewerName)
	sub.Status = to
	sub.ReviewedAt = &now
	sub.AssessorFeedback = optionalString(in.Feedback)
	sub.Grade = optionalString(in.Grade)
	sub.ActionRequired = actionRequired
	sub.StrengthsNoted = optionalString(in.Strengths)
	sub.AreasForImprovement = optionalString(in.AreasForImprovement)
	sub.ReviewAction = &in.Action
	sub.ReviewerName = &name
	sub.ReviewerRole = &in.ReviewerRole
	if err := e.Repo.UpdateSubmission(ctx, tx, sub); err != nil {
		return domain.Submission{}, fmt.Errorf("update submission: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.Record{
		Type: events.SubmissionReviewed, ShareID: s.ID, EntityKind: "submission", EntityID: sub.ID, Actor: reviewerActor(name),
		Payload: events.Payload{"action": in.Action, "from": from, "to": to, "grade": sub.Grade, "reviewer_role": in.ReviewerRole},
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// SubmissionOptions are parameters for submitting a category for review.
type SubmissionOptions struct {
	PortfolioID     string
	CategoryID      string
	CategoryName    string
	QualificationID string
}

func (e Engine) CreateSubmission(ctx context.Context, opts SubmissionOptions) (domain.Submission, error) {
	name := strings.TrimSpace(opts.CategoryName)
	if name == "" {
		return domain.Submission{}, invalid("category name is required")
	}
	if _, err := e.Repo.GetPortfolio(ctx, nil, opts.PortfolioID); err != nil {
		return domain.Submission{}, fmt.Errorf("portfolio %s: %w", opts.PortfolioID, err)
	}
	categoryID := strings.TrimSpace(opts.CategoryID)
	if categoryID == "" {
		categoryID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.PortfolioID+"|"+name)).String()
	}
	sub := domain.Submission{
		ID:              uuid.NewString(),
		PortfolioID:     opts.PortfolioID,
		CategoryID:      categoryID,
		CategoryName:    name,
		QualificationID: strings.TrimSpace(opts.QualificationID),
		Status:          domain.StatusSubmitted,
		SubmittedAt:     e.stamp(),
		SubmissionCount: 1,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSubmission(ctx, tx, sub); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return e.events().Append(ctx, tx, events.Record{
			Type: events.SubmissionCreated, EntityKind: "submission", EntityID: sub.ID, Actor: ownerActor,
			Payload: events.Payload{"portfolio_id": sub.PortfolioID, "category_name": sub.CategoryName},
		})
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// Resubmit sends a submission that received feedback back for review. The
// current feedback and grade become the previous attempt's.
func (e Engine) Resubmit(ctx context.Context, id string) (domain.Submission, error) {
	return e.ownerTransition(ctx, id, domain.StatusFeedbackGiven, events.SubmissionResubmitted, func(sub *domain.Submission) {
		sub.Status = domain.StatusResubmitted
		sub.SubmissionCount++
		sub.SubmittedAt = e.stamp()
		sub.PreviousFeedback = sub.AssessorFeedback
		sub.PreviousGrade = sub.Grade
		sub.ReviewedAt = nil
		sub.AssessorFeedback = nil
		sub.Grade = nil
		sub.ActionRequired = nil
		sub.StrengthsNoted = nil
		sub.AreasForImprovement = nil
		sub.ReviewAction = nil
		sub.ReviewerName = nil
		sub.ReviewerRole = nil
	})
}

// SignOff closes an approved submission.
func (e Engine) SignOff(ctx context.Context, id string) (domain.Submission, error) {
	return e.ownerTransition(ctx, id, domain.StatusApproved, events.SubmissionSignedOff, func(sub *domain.Submission) {
		now := e.stamp()
		sub.Status = domain.StatusSignedOff
		sub.SignedOffAt = &now
	})
}

func (e Engine) ownerTransition(ctx context.Context, id, from, evtType string, apply func(*domain.Submission)) (domain.Submission, error) {
	var sub domain.Submission
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		sub, err = e.Repo.GetSubmission(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("submission %s: %w", id, err)
		}
		if sub.Status != from {
			return fmt.Errorf("%w: %s is %s, want %s", ErrInvalidTransition, id, sub.Status, from)
		}
		apply(&sub)
		if err := e.Repo.UpdateSubmission(ctx, tx, sub); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		return e.events().Append(ctx, tx, events.Record{
			Type: evtType, EntityKind: "submission", EntityID: sub.ID, Actor: ownerActor,
			Payload: events.Payload{"from": from, "to": sub.Status, "submission_count": sub.SubmissionCount},
		})
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (e Engine) ListSubmissions(ctx context.Context, f repo.SubmissionFilters) ([]domain.Submission, error) {
	return e.Repo.ListSubmissions(ctx, f)
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
