package viewer

import (
	"strings"

	"portfolioshare/internal/domain"
	sharesdk "portfolioshare/sdk/go"
)

// View is an immutable snapshot of everything the page renders.
type View struct {
	State    State
	Failure  Failure
	Share    sharesdk.ShareData
	Identity Identity
	CanWrite bool
	Entries  []EntryView
	Pending  []PendingView
	Reviewed []sharesdk.Submission
	Notice   *Notice
}

type EntryView struct {
	Entry        sharesdk.PortfolioEntry
	Thread       []ThreadItem
	CommentCount int
	Draft        string
	Busy         bool
	Succeeded    bool
}

type PendingView struct {
	Submission      sharesdk.Submission
	PreviousAttempt int
	Form            ReviewForm
	DrawerOpen      bool
	Busy            bool
	// CanSendBack is false until the draft carries feedback.
	CanSendBack bool
}

// PendingCount is the number shown in the page header.
func (v View) PendingCount() int { return len(v.Pending) }

// View snapshots the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:    s.state,
		Failure:  s.failure,
		Identity: s.identity,
		CanWrite: strings.TrimSpace(s.identity.Name) != "",
	}
	if s.state != StateReady {
		return v
	}
	v.Share = s.share
	for _, e := range s.share.Entries {
		thread := buildThread(filterComments(s.comments, e.ID))
		_, ok := s.commentOK[e.ID]
		v.Entries = append(v.Entries, EntryView{
			Entry:        e,
			Thread:       thread,
			CommentCount: len(thread),
			Draft:        s.drafts[e.ID],
			Busy:         s.commentBusy.has(e.ID),
			Succeeded:    ok,
		})
	}
	for _, sub := range s.pendingLocked() {
		form := s.forms[sub.ID]
		v.Pending = append(v.Pending, PendingView{
			Submission:      sub,
			PreviousAttempt: PreviousAttempt(sub),
			Form:            form,
			DrawerOpen:      s.drawers[sub.ID],
			Busy:            s.reviewBusy.has(sub.ID),
			CanSendBack:     strings.TrimSpace(form.Feedback) != "",
		})
	}
	v.Reviewed = filterSubmissions(s.submissions, domain.IsReviewed)
	if s.notice != nil {
		n := *s.notice
		v.Notice = &n
	}
	return v
}
