package sharesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"portfolioshare/internal/logging"
)

// Remote procedure names.
const (
	RPCEntries    = "get_shared_portfolio_entries"
	RPCComments   = "get_shared_portfolio_comments"
	RPCStatus     = "get_shared_portfolio_status"
	RPCAddComment = "add_share_comment"
	RPCReview     = "review_shared_submission"
)

// ErrExpired marks a share token that the server recognises but no longer honours.
var ErrExpired = errors.New("share link expired")

// Client is a credential-less client for the shared portfolio RPC surface. It
// carries only the public API key; every call is authorised by a share token.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

// Share binds a token to the client. The returned handle injects the token into
// every call so call sites never handle it directly.
func (c *Client) Share(token string) *Share {
	return &Share{client: c, token: token}
}

// Share is a token-bound handle over the five share RPCs.
type Share struct {
	client *Client
	token  string
}

func (s *Share) String() string { return "sharesdk.Share{token:[redacted]}" }

// Redact strips the bound token from text that may have echoed it.
func (s *Share) Redact(text string) string {
	return logging.Redact(text, s.token)
}

// EvidenceFile is one file attached to a portfolio entry.
type EvidenceFile struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
	FileURL  string `json:"file_url"`
}

// PortfolioEntry is one piece of evidence visible through a share.
type PortfolioEntry struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	CategoryName       string         `json:"category_name"`
	SkillsDemonstrated []string       `json:"skills_demonstrated"`
	ReflectionNotes    string         `json:"reflection_notes,omitempty"`
	TimeSpent          int            `json:"time_spent"`
	Status             string         `json:"status"`
	CreatedAt          string         `json:"created_at"`
	EvidenceFiles      []EvidenceFile `json:"evidence_files"`
}

// ShareData is the resolved view of a share token.
type ShareData struct {
	ShareID          string           `json:"share_id"`
	OwnerName        string           `json:"owner_name"`
	ShareTitle       string           `json:"share_title,omitempty"`
	ShareDescription string           `json:"share_description,omitempty"`
	Entries          []PortfolioEntry `json:"entries"`
}

// Comment is a piece of feedback on one evidence entry.
type Comment struct {
	ID             string  `json:"id"`
	ContextID      string  `json:"context_id"`
	ParentID       *string `json:"parent_id,omitempty"`
	AuthorName     string  `json:"author_name"`
	AuthorRole     string  `json:"author_role"`
	AuthorInitials string  `json:"author_initials"`
	Content        string  `json:"content"`
	RequiresAction bool    `json:"requires_action"`
	IsResolved     bool    `json:"is_resolved"`
	CreatedAt      string  `json:"created_at"`
}

// Submission is a category bundle under review.
type Submission struct {
	ID                  string  `json:"id"`
	CategoryID          string  `json:"category_id"`
	CategoryName        string  `json:"category_name"`
	QualificationID     string  `json:"qualification_id"`
	Status              string  `json:"status"`
	SubmittedAt         string  `json:"submitted_at"`
	ReviewedAt          *string `json:"reviewed_at,omitempty"`
	AssessorFeedback    *string `json:"assessor_feedback,omitempty"`
	Grade               *string `json:"grade,omitempty"`
	ActionRequired      *string `json:"action_required,omitempty"`
	StrengthsNoted      *string `json:"strengths_noted,omitempty"`
	AreasForImprovement *string `json:"areas_for_improvement,omitempty"`
	PreviousFeedback    *string `json:"previous_feedback,omitempty"`
	PreviousGrade       *string `json:"previous_grade,omitempty"`
	SubmissionCount     int     `json:"submission_count"`
	SignedOffAt         *string `json:"signed_off_at,omitempty"`
}

// CommentInput are the parameters of add_share_comment.
type CommentInput struct {
	AuthorName string
	AuthorRole string
	Content    string
	EvidenceID string
	ParentID   string
}

// ReviewInput are the parameters of review_shared_submission.
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

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RPCError is an application-level rejection carried in a 2xx payload.
type RPCError struct {
	Procedure string
	Message   string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Procedure, e.Message)
}

// Entries resolves the share to its owner, metadata and visible entries.
func (s *Share) Entries(ctx context.Context) (ShareData, error) {
	var resp struct {
		ShareData
		Error json.RawMessage `json:"error,omitempty"`
	}
	if err := s.call(ctx, RPCEntries, nil, &resp); err != nil {
		return ShareData{}, err
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return ShareData{}, fmt.Errorf("%w: %s", ErrExpired, s.Redact(msg))
	}
	return resp.ShareData, nil
}

// Comments returns every comment made through the share, in server order.
func (s *Share) Comments(ctx context.Context) ([]Comment, error) {
	var resp []Comment
	err := s.call(ctx, RPCComments, nil, &resp)
	return resp, err
}

// Status returns the category submissions visible through the share.
func (s *Share) Status(ctx context.Context) ([]Submission, error) {
	var resp struct {
		Submissions []Submission    `json:"submissions"`
		Error       json.RawMessage `json:"error,omitempty"`
	}
	if err := s.call(ctx, RPCStatus, nil, &resp); err != nil {
		return nil, err
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return nil, &RPCError{Procedure: RPCStatus, Message: s.Redact(msg)}
	}
	return resp.Submissions, nil
}

// AddComment posts a comment against one evidence entry.
func (s *Share) AddComment(ctx context.Context, in CommentInput) error {
	params := map[string]any{
		"author_name": in.AuthorName,
		"author_role": in.AuthorRole,
		"content":     in.Content,
		"evidence_id": in.EvidenceID,
	}
	if in.ParentID != "" {
		params["parent_id"] = in.ParentID
	}
	return s.write(ctx, RPCAddComment, params)
}

// Review records a reviewer decision on a submission. Optional text fields are
// normalised first so whitespace-only values are never transmitted.
func (s *Share) Review(ctx context.Context, in ReviewInput) error {
	in = in.Normalize()
	params := map[string]any{
		"submission_id": in.SubmissionID,
		"reviewer_name": in.ReviewerName,
		"reviewer_role": in.ReviewerRole,
		"action":        in.Action,
	}
	optional := map[string]string{
		"feedback":              in.Feedback,
		"grade":                 in.Grade,
		"action_required":       in.ActionRequired,
		"strengths":             in.Strengths,
		"areas_for_improvement": in.AreasForImprovement,
	}
	for k, v := range optional {
		if v != "" {
			params[k] = v
		}
	}
	return s.write(ctx, RPCReview, params)
}

// Normalize trims every text field; empty optional fields become absent.
func (in ReviewInput) Normalize() ReviewInput {
	in.ReviewerName = strings.TrimSpace(in.ReviewerName)
	in.Feedback = strings.TrimSpace(in.Feedback)
	in.Grade = strings.TrimSpace(in.Grade)
	in.ActionRequired = strings.TrimSpace(in.ActionRequired)
	in.Strengths = strings.TrimSpace(in.Strengths)
	in.AreasForImprovement = strings.TrimSpace(in.AreasForImprovement)
	return in
}

func (s *Share) write(ctx context.Context, name string, params map[string]any) error {
	var resp struct {
		Error json.RawMessage `json:"error,omitempty"`
	}
	if err := s.call(ctx, name, params, &resp); err != nil {
		return err
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return &RPCError{Procedure: name, Message: s.Redact(msg)}
	}
	return nil
}

func (s *Share) call(ctx context.Context, name string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	params["share_token"] = s.token
	err := s.client.do(ctx, "rpc/"+name, params, out)
	// Servers may echo the request body; the token never leaves this handle.
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.Body = s.Redact(apiErr.Body)
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// errorMessage interprets an embedded error marker. Both {"error": true} and
// {"error": "message"} count; null and false do not.
func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw), true
	}
	switch t := v.(type) {
	case nil:
		return "", false
	case bool:
		return "error", t
	case string:
		return t, true
	case map[string]any:
		if msg, ok := t["message"].(string); ok {
			return msg, true
		}
		return string(raw), true
	default:
		return string(raw), true
	}
}
