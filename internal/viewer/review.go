package viewer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"portfolioshare/internal/domain"
	sharesdk "portfolioshare/sdk/go"
)

func (s *Session) Form(submissionID string) ReviewForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forms[submissionID]
}

// SetForm replaces the draft review for submissionID.
func (s *Session) SetForm(submissionID string, f ReviewForm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[submissionID] = f
}

func (s *Session) OpenDrawer(submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawers[submissionID] = true
}

func (s *Session) CloseDrawer(submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drawers, submissionID)
}

func (s *Session) DrawerOpen(submissionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawers[submissionID]
}

// ReviewBusy reports whether a review of submissionID is in flight. All three
// actions for that submission are disabled while it is.
func (s *Session) ReviewBusy(submissionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviewBusy.has(submissionID)
}

// CanReview returns the reason action cannot be taken on submissionID now.
func (s *Session) CanReview(submissionID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.reviewPreconditionLocked(submissionID, action)
	return err
}

func (s *Session) reviewPreconditionLocked(submissionID, action string) (sharesdk.Submission, error) {
	if s.closed {
		return sharesdk.Submission{}, ErrClosed
	}
	if !s.hasToken {
		return sharesdk.Submission{}, ErrNoToken
	}
	if s.state != StateReady {
		return sharesdk.Submission{}, ErrNotReady
	}
	if !domain.IsAction(action) {
		return sharesdk.Submission{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if strings.TrimSpace(s.identity.Name) == "" {
		return sharesdk.Submission{}, ErrMissingName
	}
	if action == domain.ActionSendBack && strings.TrimSpace(s.forms[submissionID].Feedback) == "" {
		return sharesdk.Submission{}, ErrMissingFeedback
	}
	if s.reviewBusy.has(submissionID) {
		return sharesdk.Submission{}, ErrBusy
	}
	for _, sub := range s.submissions {
		if sub.ID != submissionID {
			continue
		}
		if _, hidden := s.hidden[submissionID]; hidden || !domain.IsPending(sub.Status) {
			return sharesdk.Submission{}, ErrNotPending
		}
		return sub, nil
	}
	return sharesdk.Submission{}, fmt.Errorf("%w: %s", ErrUnknownSubmission, submissionID)
}

// Review submits the draft for submissionID with the given action.
func (s *Session) Review(ctx context.Context, submissionID, action string) error {
	s.mu.Lock()
	sub, err := s.reviewPreconditionLocked(submissionID, action)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.reviewBusy.acquire(submissionID)
	form := s.forms[submissionID]
	in := sharesdk.ReviewInput{
		SubmissionID:        submissionID,
		ReviewerName:        s.identity.Name,
		ReviewerRole:        s.identity.Role,
		Action:              action,
		Feedback:            form.Feedback,
		Grade:               form.Grade,
		ActionRequired:      form.ActionRequired,
		Strengths:           form.Strengths,
		AreasForImprovement: form.AreasForImprovement,
	}.Normalize()
	s.mu.Unlock()

	err = func() error {
		defer func() {
			s.mu.Lock()
			s.reviewBusy.release(submissionID)
			s.mu.Unlock()
		}()
		return s.api.Review(ctx, in)
	}()
	if err != nil {
		s.log.Warn("review failed", zap.String("submission_id", submissionID), zap.String("action", action), s.errField(err))
		return fmt.Errorf("review submission: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.hidden[submissionID] = s.subsSeq
	delete(s.drawers, submissionID)
	delete(s.forms, submissionID)
	s.notice = &Notice{SubmissionID: submissionID, CategoryName: sub.CategoryName, Action: action}
	s.mu.Unlock()

	_ = s.ReloadSubmissions(ctx)
	return nil
}

// Notice returns the last review success notice, if not dismissed.
func (s *Session) Notice() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return Notice{}, false
	}
	return *s.notice, true
}

func (s *Session) DismissNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = nil
}

// Pending returns submissions awaiting review, excluding ones reviewed in this
// session that no reload has yet confirmed.
func (s *Session) Pending() []sharesdk.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

// Reviewed returns submissions whose status places them in the complete set.
func (s *Session) Reviewed() []sharesdk.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterSubmissions(s.submissions, domain.IsReviewed)
}

func (s *Session) pendingLocked() []sharesdk.Submission {
	var out []sharesdk.Submission
	for _, sub := range filterSubmissions(s.submissions, domain.IsPending) {
		if _, hidden := s.hidden[sub.ID]; hidden {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func filterSubmissions(all []sharesdk.Submission, keep func(string) bool) []sharesdk.Submission {
	var out []sharesdk.Submission
	for _, sub := range all {
		if keep(sub.Status) {
			out = append(out, sub)
		}
	}
	return out
}

// PreviousAttempt is the attempt number the previous feedback belongs to, or 0
// when the submission carries no previous feedback.
func PreviousAttempt(sub sharesdk.Submission) int {
	if sub.PreviousFeedback == nil || strings.TrimSpace(*sub.PreviousFeedback) == "" || sub.SubmissionCount < 2 {
		return 0
	}
	return sub.SubmissionCount - 1
}
