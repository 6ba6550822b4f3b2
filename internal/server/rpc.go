package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"portfolioshare/internal/domain"
	"portfolioshare/internal/engine"
)

// Procedure names under {base}/rpc/.
const (
	procEntries    = "get_shared_portfolio_entries"
	procComments   = "get_shared_portfolio_comments"
	procStatus     = "get_shared_portfolio_status"
	procAddComment = "add_share_comment"
	procReview     = "review_shared_submission"
)

var writeProcedures = []string{procAddComment, procReview}

type tokenBody struct {
	ShareToken string `json:"share_token" minLength:"1" maxLength:"128" doc:"Opaque share token from the link"`
}

type tokenInput struct {
	Body tokenBody
}

type entriesBody struct {
	ShareID          string         `json:"share_id,omitempty"`
	OwnerName        string         `json:"owner_name,omitempty"`
	ShareTitle       string         `json:"share_title,omitempty"`
	ShareDescription string         `json:"share_description,omitempty"`
	Entries          []domain.Entry `json:"entries,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type entriesOutput struct {
	Body entriesBody
}

type commentsOutput struct {
	Body []domain.Comment
}

type statusBody struct {
	Submissions []domain.Submission `json:"submissions"`
	Error       string              `json:"error,omitempty"`
}

type statusOutput struct {
	Body statusBody
}

type addCommentInput struct {
	Body struct {
		ShareToken string `json:"share_token" minLength:"1" maxLength:"128"`
		AuthorName string `json:"author_name" maxLength:"120"`
		AuthorRole string `json:"author_role" maxLength:"32"`
		Content    string `json:"content" maxLength:"4000"`
		EvidenceID string `json:"evidence_id" maxLength:"64"`
		ParentID   string `json:"parent_id,omitempty" maxLength:"64"`
	}
}

type reviewInput struct {
	Body struct {
		ShareToken          string `json:"share_token" minLength:"1" maxLength:"128"`
		SubmissionID        string `json:"submission_id" maxLength:"64"`
		ReviewerName        string `json:"reviewer_name" maxLength:"120"`
		ReviewerRole        string `json:"reviewer_role" maxLength:"32"`
		Action              string `json:"action" maxLength:"32"`
		Feedback            string `json:"feedback,omitempty" maxLength:"4000"`
		Grade               string `json:"grade,omitempty" maxLength:"32"`
		ActionRequired      string `json:"action_required,omitempty" maxLength:"2000"`
		Strengths           string `json:"strengths,omitempty" maxLength:"2000"`
		AreasForImprovement string `json:"areas_for_improvement,omitempty" maxLength:"2000"`
	}
}

type writeBody struct {
	Success bool   `json:"success,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type writeOutput struct {
	Body writeBody
}

// rejected reports whether err is carried in the payload rather than the
// status code.
func rejected(err error) bool {
	return errors.Is(err, engine.ErrShareExpired) ||
		errors.Is(err, engine.ErrInvalidInput) ||
		errors.Is(err, engine.ErrInvalidTransition)
}

func rpcOperation(id, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/rpc/" + id,
		Summary:     summary,
		Tags:        []string{"share"},
		Security:    []map[string][]string{{securityScheme: {}}},
	}
}

func registerRPC(api huma.API, eng engine.Engine, log *zap.Logger) {
	huma.Register(api, rpcOperation(procEntries, "Resolve a share to its portfolio entries"), func(ctx context.Context, input *tokenInput) (*entriesOutput, error) {
		data, err := eng.SharedEntries(ctx, input.Body.ShareToken)
		if errors.Is(err, engine.ErrShareExpired) {
			return &entriesOutput{Body: entriesBody{Error: "share link expired"}}, nil
		}
		if err != nil {
			return nil, handleError(log, err)
		}
		return &entriesOutput{Body: entriesBody{
			ShareID:          data.ShareID,
			OwnerName:        data.OwnerName,
			ShareTitle:       data.ShareTitle,
			ShareDescription: data.ShareDescription,
			Entries:          data.Entries,
		}}, nil
	})

	huma.Register(api, rpcOperation(procComments, "List comments made through a share"), func(ctx context.Context, input *tokenInput) (*commentsOutput, error) {
		comments, err := eng.SharedComments(ctx, input.Body.ShareToken)
		if errors.Is(err, engine.ErrShareExpired) {
			return nil, newAPIError(http.StatusNotFound, "share_expired", "share link expired", nil)
		}
		if err != nil {
			return nil, handleError(log, err)
		}
		return &commentsOutput{Body: comments}, nil
	})

	huma.Register(api, rpcOperation(procStatus, "List category submissions visible through a share"), func(ctx context.Context, input *tokenInput) (*statusOutput, error) {
		subs, err := eng.SharedSubmissions(ctx, input.Body.ShareToken)
		if errors.Is(err, engine.ErrShareExpired) {
			return &statusOutput{Body: statusBody{Submissions: []domain.Submission{}, Error: "share link expired"}}, nil
		}
		if err != nil {
			return nil, handleError(log, err)
		}
		if subs == nil {
			subs = []domain.Submission{}
		}
		return &statusOutput{Body: statusBody{Submissions: subs}}, nil
	})

	huma.Register(api, rpcOperation(procAddComment, "Comment on an entry through a share"), func(ctx context.Context, input *addCommentInput) (*writeOutput, error) {
		b := input.Body
		c, err := eng.AddComment(ctx, b.ShareToken, engine.CommentInput{
			AuthorName: b.AuthorName,
			AuthorRole: b.AuthorRole,
			Content:    b.Content,
			EvidenceID: b.EvidenceID,
			ParentID:   b.ParentID,
		})
		return writeResult(log, c.ID, err)
	})

	huma.Register(api, rpcOperation(procReview, "Review a submission through a share"), func(ctx context.Context, input *reviewInput) (*writeOutput, error) {
		b := input.Body
		sub, err := eng.Review(ctx, b.ShareToken, engine.ReviewInput{
			SubmissionID:        b.SubmissionID,
			ReviewerName:        b.ReviewerName,
			ReviewerRole:        b.ReviewerRole,
			Action:              b.Action,
			Feedback:            b.Feedback,
			Grade:               b.Grade,
			ActionRequired:      b.ActionRequired,
			Strengths:           b.Strengths,
			AreasForImprovement: b.AreasForImprovement,
		})
		return writeResult(log, sub.ID, err)
	})
}

func writeResult(log *zap.Logger, id string, err error) (*writeOutput, error) {
	if err == nil {
		return &writeOutput{Body: writeBody{Success: true, ID: id}}, nil
	}
	if errors.Is(err, engine.ErrShareNotFound) {
		return nil, handleError(log, err)
	}
	if rejected(err) {
		return &writeOutput{Body: writeBody{Error: err.Error()}}, nil
	}
	return nil, handleError(log, err)
}
