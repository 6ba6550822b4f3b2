// Package viewer holds the client-side state of a shared portfolio review page:
// token resolution, per-evidence comment threads, and the submission review
// workflow. Every method is safe for concurrent use; network calls are made
// without holding the session lock so unrelated actions never block each other.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolioshare/internal/domain"
	sharesdk "portfolioshare/sdk/go"
)

// ShareAPI is the token-bound remote surface the session consumes.
type ShareAPI interface {
	Entries(ctx context.Context) (sharesdk.ShareData, error)
	Comments(ctx context.Context) ([]sharesdk.Comment, error)
	Status(ctx context.Context) ([]sharesdk.Submission, error)
	AddComment(ctx context.Context, in sharesdk.CommentInput) error
	Review(ctx context.Context, in sharesdk.ReviewInput) error
}

// State is the page-level lifecycle.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
	StateExpired State = "expired"
)

// Failure refines StateError.
type Failure string

const (
	FailureNone        Failure = ""
	FailureInvalidLink Failure = "invalid_link"
	FailureNotFound    Failure = "not_found"
)

const DefaultSuccessFlash = 3 * time.Second

var (
	ErrNoToken           = errors.New("no share token")
	ErrMissingName       = errors.New("reviewer name is required")
	ErrEmptyContent      = errors.New("comment is empty")
	ErrMissingFeedback   = errors.New("feedback is required to send back")
	ErrBusy              = errors.New("action already in progress")
	ErrUnknownRole       = errors.New("unknown reviewer role")
	ErrUnknownAction     = errors.New("unknown review action")
	ErrUnknownSubmission = errors.New("unknown submission")
	ErrNotPending        = errors.New("submission is not awaiting review")
	ErrNotReady          = errors.New("share is not loaded")
	ErrClosed            = errors.New("session closed")
)

// Config for a Session.
type Config struct {
	// HasToken is false when the page was opened without a token at all.
	HasToken     bool
	Logger       *zap.Logger
	SuccessFlash time.Duration
}

// Identity is the reviewer acting through the share. It is read at the moment
// of each write, never snapshotted earlier.
type Identity struct {
	Name string
	Role string
}

// ReviewForm is the unsent draft of a review for one submission.
type ReviewForm struct {
	Feedback            string
	Grade               string
	ActionRequired      string
	Strengths           string
	AreasForImprovement string
}

// Notice reports the last successful review action until dismissed.
type Notice struct {
	SubmissionID string
	CategoryName string
	Action       string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %s", n.CategoryName, domain.ActionLabel(n.Action))
}

type Session struct {
	api      ShareAPI
	hasToken bool
	log      *zap.Logger
	flash    time.Duration

	mu      sync.Mutex
	closed  bool
	started bool
	state   State
	failure Failure
	share   sharesdk.ShareData

	comments        []sharesdk.Comment
	commentsSeq     uint64
	commentsApplied uint64
	submissions     []sharesdk.Submission
	subsSeq         uint64
	subsApplied     uint64

	identity    Identity
	drafts      map[string]string
	commentBusy busySet
	commentOK   map[string]*time.Timer

	forms      map[string]ReviewForm
	drawers    map[string]bool
	reviewBusy busySet
	// hidden maps a reviewed submission id to the submissions reload sequence
	// current when the review succeeded.
	hidden map[string]uint64
	notice *Notice
}

// New creates a session in the loading state.
func New(api ShareAPI, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	flash := cfg.SuccessFlash
	if flash <= 0 {
		flash = DefaultSuccessFlash
	}
	return &Session{
		api:         api,
		hasToken:    cfg.HasToken,
		log:         log,
		flash:       flash,
		state:       StateLoading,
		identity:    Identity{Role: domain.DefaultRole},
		drafts:      map[string]string{},
		commentBusy: busySet{},
		commentOK:   map[string]*time.Timer{},
		forms:       map[string]ReviewForm{},
		drawers:     map[string]bool{},
		reviewBusy:  busySet{},
		hidden:      map[string]uint64{},
	}
}

// Load resolves the share token. It runs once; later calls are no-ops.
// The returned error is diagnostic only, the outcome is reflected in State.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	if !s.hasToken {
		s.state, s.failure = StateError, FailureInvalidLink
		s.mu.Unlock()
		return ErrNoToken
	}
	s.mu.Unlock()

	data, err := s.api.Entries(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch {
	case errors.Is(err, sharesdk.ErrExpired):
		s.state = StateExpired
	case err != nil:
		s.state, s.failure = StateError, FailureNotFound
	default:
		s.share = data
		s.state = StateReady
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("resolve share failed", s.errField(err))
		return fmt.Errorf("resolve share: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		_ = s.ReloadComments(ctx)
		return nil
	})
	g.Go(func() error {
		_ = s.ReloadSubmissions(ctx)
		return nil
	})
	return g.Wait()
}

// ReloadComments refetches the flat comment list. A failed fetch keeps the
// last list applied, which is empty until one fetch has succeeded.
func (s *Session) ReloadComments(ctx context.Context) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commentsSeq++
	seq := s.commentsSeq
	s.mu.Unlock()

	list, err := s.api.Comments(ctx)
	if err != nil {
		s.log.Warn("load comments failed", s.errField(err))
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq < s.commentsApplied {
		return nil
	}
	s.commentsApplied = seq
	s.comments = list
	return nil
}

// ReloadSubmissions refetches the submission list and reconciles optimistic
// hides against it. A failed fetch changes nothing.
func (s *Session) ReloadSubmissions(ctx context.Context) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.subsSeq++
	seq := s.subsSeq
	s.mu.Unlock()

	list, err := s.api.Status(ctx)
	if err != nil {
		s.log.Warn("load submissions failed", s.errField(err))
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq < s.subsApplied {
		return nil
	}
	s.subsApplied = seq
	s.submissions = list
	s.reconcileLocked(seq)
	return nil
}

// reconcileLocked drops every optimistic hide that the reload numbered seq
// supersedes. A reload supersedes a hide when it started after the review
// succeeded; authoritative status then decides visibility on its own.
func (s *Session) reconcileLocked(seq uint64) {
	for id, at := range s.hidden {
		if seq <= at {
			continue
		}
		delete(s.hidden, id)
		for _, sub := range s.submissions {
			if sub.ID == id && domain.IsPending(sub.Status) {
				s.log.Warn("reviewed submission still pending after reload", zap.String("submission_id", id))
			}
		}
	}
}

// redactor is implemented by remotes holding a secret that must stay out of
// logs, such as a token-bound sharesdk.Share.
type redactor interface {
	Redact(text string) string
}

func (s *Session) errField(err error) zap.Field {
	if r, ok := s.api.(redactor); ok && err != nil {
		return zap.String("error", r.Redact(err.Error()))
	}
	return zap.Error(err)
}

func (s *Session) readyLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateReady {
		return ErrNotReady
	}
	return nil
}

// SetReviewerName sets the name attached to every subsequent write.
func (s *Session) SetReviewerName(name string) {
	s.mu.Lock()
	s.identity.Name = name
	s.mu.Unlock()
}

// SetReviewerRole sets the role; only the fixed reviewer roles are accepted.
func (s *Session) SetReviewerRole(role string) error {
	if !domain.IsReviewerRole(role) {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	s.mu.Lock()
	s.identity.Role = role
	s.mu.Unlock()
	return nil
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// CanWrite reports whether write actions are enabled at all.
func (s *Session) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.identity.Name) != ""
}

// Close tears the session down. Pending timers stop and results of calls still
// in flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.commentOK {
		t.Stop()
		delete(s.commentOK, id)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Failure() Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}
