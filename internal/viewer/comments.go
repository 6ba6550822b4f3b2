package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	sharesdk "portfolioshare/sdk/go"
)

// busySet tracks in-flight actions by key. Callers hold Session.mu.
type busySet map[string]struct{}

func (b busySet) acquire(key string) bool {
	if _, ok := b[key]; ok {
		return false
	}
	b[key] = struct{}{}
	return true
}

func (b busySet) release(key string) { delete(b, key) }

func (b busySet) has(key string) bool {
	_, ok := b[key]
	return ok
}

// SetCommentDraft stores the unsent comment text for an evidence item.
func (s *Session) SetCommentDraft(evidenceID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, evidenceID)
		return
	}
	s.drafts[evidenceID] = text
}

func (s *Session) CommentDraft(evidenceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[evidenceID]
}

// CommentBusy reports whether a comment on evidenceID is in flight.
func (s *Session) CommentBusy(evidenceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commentBusy.has(evidenceID)
}

// CommentSucceeded reports the transient success flag for evidenceID.
func (s *Session) CommentSucceeded(evidenceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.commentOK[evidenceID]
	return ok
}

// CanComment returns the reason a comment on evidenceID cannot be sent now.
func (s *Session) CanComment(evidenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, err := s.commentPreconditionLocked(evidenceID)
	return err
}

// AddComment sends the draft for evidenceID as a new comment.
func (s *Session) AddComment(ctx context.Context, evidenceID string) error {
	return s.addComment(ctx, evidenceID, "")
}

// AddReply sends the draft for evidenceID as a reply to parentID.
func (s *Session) AddReply(ctx context.Context, evidenceID, parentID string) error {
	return s.addComment(ctx, evidenceID, parentID)
}

func (s *Session) commentPreconditionLocked(evidenceID string) (string, string, error) {
	if s.closed {
		return "", "", ErrClosed
	}
	if !s.hasToken {
		return "", "", ErrNoToken
	}
	if s.state != StateReady {
		return "", "", ErrNotReady
	}
	name := strings.TrimSpace(s.identity.Name)
	if name == "" {
		return "", "", ErrMissingName
	}
	content := strings.TrimSpace(s.drafts[evidenceID])
	if content == "" {
		return "", "", ErrEmptyContent
	}
	if s.commentBusy.has(evidenceID) {
		return "", "", ErrBusy
	}
	return name, content, nil
}

func (s *Session) addComment(ctx context.Context, evidenceID, parentID string) error {
	s.mu.Lock()
	name, content, err := s.commentPreconditionLocked(evidenceID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.commentBusy.acquire(evidenceID)
	in := sharesdk.CommentInput{
		AuthorName: name,
		AuthorRole: s.identity.Role,
		Content:    content,
		EvidenceID: evidenceID,
		ParentID:   parentID,
	}
	s.mu.Unlock()

	err = func() error {
		defer func() {
			s.mu.Lock()
			s.commentBusy.release(evidenceID)
			s.mu.Unlock()
		}()
		return s.api.AddComment(ctx, in)
	}()
	if err != nil {
		s.log.Warn("add comment failed", zap.String("evidence_id", evidenceID), s.errField(err))
		return fmt.Errorf("add comment: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	delete(s.drafts, evidenceID)
	s.flashLocked(evidenceID)
	s.mu.Unlock()

	_ = s.ReloadComments(ctx)
	return nil
}

// flashLocked raises the success flag for evidenceID and schedules its removal.
func (s *Session) flashLocked(evidenceID string) {
	if prev, ok := s.commentOK[evidenceID]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.flash, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.commentOK[evidenceID] == t {
			delete(s.commentOK, evidenceID)
		}
	})
	s.commentOK[evidenceID] = t
}

// Comments returns the thread for evidenceID as a flat list in server order.
func (s *Session) Comments(evidenceID string) []sharesdk.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterComments(s.comments, evidenceID)
}

// CommentCount is the number of comments targeting evidenceID.
func (s *Session) CommentCount(evidenceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(filterComments(s.comments, evidenceID))
}

// Thread returns the comments for evidenceID arranged for display.
func (s *Session) Thread(evidenceID string) []ThreadItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildThread(filterComments(s.comments, evidenceID))
}

func filterComments(all []sharesdk.Comment, evidenceID string) []sharesdk.Comment {
	var out []sharesdk.Comment
	for _, c := range all {
		if c.ContextID == evidenceID {
			out = append(out, c)
		}
	}
	return out
}

// ThreadItem is one displayed comment. Depth 1 marks a reply.
type ThreadItem struct {
	Comment sharesdk.Comment
	Depth   int
	// Orphan marks a reply whose parent is not part of this thread.
	Orphan bool
}

// buildThread keeps server order for top-level comments and places each reply
// directly under its parent. Replies are nested one level only; a reply whose
// parent is missing, or is itself a reply, stays top-level and is flagged.
func buildThread(comments []sharesdk.Comment) []ThreadItem {
	roots := map[string]bool{}
	for _, c := range comments {
		if c.ParentID == nil || *c.ParentID == "" {
			roots[c.ID] = true
		}
	}
	replies := map[string][]sharesdk.Comment{}
	var out []ThreadItem
	var order []sharesdk.Comment
	for _, c := range comments {
		if c.ParentID != nil && *c.ParentID != "" && roots[*c.ParentID] {
			replies[*c.ParentID] = append(replies[*c.ParentID], c)
			continue
		}
		order = append(order, c)
	}
	for _, c := range order {
		orphan := c.ParentID != nil && *c.ParentID != ""
		out = append(out, ThreadItem{Comment: c, Orphan: orphan})
		for _, r := range replies[c.ID] {
			out = append(out, ThreadItem{Comment: r, Depth: 1})
		}
	}
	return out
}
