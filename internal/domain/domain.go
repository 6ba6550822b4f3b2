package domain

import "strings"

type Portfolio struct {
	ID        string `json:"id"`
	OwnerName string `json:"owner_name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Share is a capability over one portfolio. Only the hash of the token is kept.
type Share struct {
	ID          string   `json:"id"`
	PortfolioID string   `json:"portfolio_id"`
	TokenHash   string   `json:"-"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	ExpiresAt   *string  `json:"expires_at,omitempty" format:"date-time"`
	RevokedAt   *string  `json:"revoked_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Entry struct {
	ID                 string         `json:"id"`
	PortfolioID        string         `json:"portfolio_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	CategoryName       string         `json:"category_name"`
	SkillsDemonstrated []string       `json:"skills_demonstrated"`
	ReflectionNotes    string         `json:"reflection_notes,omitempty"`
	TimeSpent          int            `json:"time_spent"`
	Status             string         `json:"status"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	Files              []EvidenceFile `json:"evidence_files"`
}

type EvidenceFile struct {
	ID         string `json:"id"`
	EntryID    string `json:"entry_id"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size"`
	FileURL    string `json:"file_url"`
	StorageKey string `json:"-"`
}

type Comment struct {
	ID             string  `json:"id"`
	ShareID        string  `json:"share_id"`
	ContextID      string  `json:"context_id"`
	ParentID       *string `json:"parent_id,omitempty"`
	AuthorName     string  `json:"author_name"`
	AuthorRole     string  `json:"author_role"`
	AuthorInitials string  `json:"author_initials"`
	Content        string  `json:"content"`
	RequiresAction bool    `json:"requires_action"`
	IsResolved     bool    `json:"is_resolved"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Submission struct {
	ID                  string  `json:"id"`
	PortfolioID         string  `json:"portfolio_id"`
	CategoryID          string  `json:"category_id"`
	CategoryName        string  `json:"category_name"`
	QualificationID     string  `json:"qualification_id"`
	Status              string  `json:"status"`
	SubmittedAt         string  `json:"submitted_at" format:"date-time"`
	ReviewedAt          *string `json:"reviewed_at,omitempty" format:"date-time"`
	AssessorFeedback    *string `json:"assessor_feedback,omitempty"`
	Grade               *string `json:"grade,omitempty"`
	ActionRequired      *string `json:"action_required,omitempty"`
	StrengthsNoted      *string `json:"strengths_noted,omitempty"`
	AreasForImprovement *string `json:"areas_for_improvement,omitempty"`
	PreviousFeedback    *string `json:"previous_feedback,omitempty"`
	PreviousGrade       *string `json:"previous_grade,omitempty"`
	SubmissionCount     int     `json:"submission_count"`
	SignedOffAt         *string `json:"signed_off_at,omitempty" format:"date-time"`
	ReviewAction        *string `json:"review_action,omitempty"`
	ReviewerName        *string `json:"reviewer_name,omitempty"`
	ReviewerRole        *string `json:"reviewer_role,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ShareID    string `json:"share_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload_json"`
}

// Submission statuses.
const (
	StatusSubmitted     = "submitted"
	StatusResubmitted   = "resubmitted"
	StatusUnderReview   = "under_review"
	StatusApproved      = "approved"
	StatusFeedbackGiven = "feedback_given"
	StatusSignedOff     = "signed_off"
	StatusIQASampled    = "iqa_sampled"
	StatusIQAVerified   = "iqa_verified"
)

// Review actions.
const (
	ActionApprove             = "approve"
	ActionSendBack            = "send_back"
	ActionRequestMoreEvidence = "request_more_evidence"
)

const DefaultRole = "assessor"

var (
	pendingStatuses  = []string{StatusSubmitted, StatusResubmitted, StatusUnderReview}
	reviewedStatuses = []string{StatusApproved, StatusFeedbackGiven, StatusSignedOff, StatusIQASampled, StatusIQAVerified}
	reviewerRoles    = []string{"assessor", "tutor", "admin", "employer"}
	grades           = []string{"distinction", "merit", "pass", "refer", "not_yet_competent"}
	actions          = []string{ActionApprove, ActionSendBack, ActionRequestMoreEvidence}
)

// IsPending reports whether a submission is awaiting a reviewer's action.
func IsPending(status string) bool { return contains(pendingStatuses, status) }

// IsReviewed reports whether a submission has left the pending set for this cycle.
func IsReviewed(status string) bool { return contains(reviewedStatuses, status) }

func IsReviewerRole(role string) bool { return contains(reviewerRoles, role) }
func IsGrade(grade string) bool       { return contains(grades, grade) }
func IsAction(action string) bool     { return contains(actions, action) }

func ReviewerRoles() []string { return append([]string(nil), reviewerRoles...) }
func Grades() []string        { return append([]string(nil), grades...) }
func Actions() []string       { return append([]string(nil), actions...) }

// ActionLabel is the human form of a review action.
func ActionLabel(action string) string {
	switch action {
	case ActionApprove:
		return "approved"
	case ActionSendBack:
		return "sent back"
	case ActionRequestMoreEvidence:
		return "more evidence requested"
	default:
		return strings.ReplaceAll(action, "_", " ")
	}
}

// Initials derives the display initials for an author name: the first letter
// of up to two words, upper-cased.
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		out = append(out, []rune(strings.ToUpper(w))[0])
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
