package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"portfolioshare/internal/domain"
	sharesdk "portfolioshare/sdk/go"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAPI struct {
	mu          sync.Mutex
	share       sharesdk.ShareData
	entriesErr  error
	comments    []sharesdk.Comment
	commentsErr error
	subs        []sharesdk.Submission
	statusErr   error
	addErr      error
	reviewErr   error
	// reviewGate, when set, blocks Review until it receives a value.
	reviewGate chan struct{}
	// statusGate, when set, blocks Status until it receives a value.
	statusGate chan struct{}
	// onReview mutates subs as the server would.
	onReview func(in sharesdk.ReviewInput)

	calls   map[string]int
	added   []sharesdk.CommentInput
	reviews []sharesdk.ReviewInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		share: sharesdk.ShareData{
			ShareID:   "share-1",
			OwnerName: "Sam Apprentice",
			Entries: []sharesdk.PortfolioEntry{
				{ID: "e1", Title: "Consumer unit change", CategoryName: "Installation"},
				{ID: "e2", Title: "Ring final test", CategoryName: "Testing"},
			},
		},
		subs: []sharesdk.Submission{
			{ID: "s1", CategoryName: "Installation", Status: domain.StatusSubmitted, SubmissionCount: 1},
			{ID: "s2", CategoryName: "Testing", Status: domain.StatusResubmitted, SubmissionCount: 2, PreviousFeedback: strPtr("Add the Zs readings")},
			{ID: "s3", CategoryName: "Safe isolation", Status: domain.StatusApproved, SubmissionCount: 1},
		},
		calls: map[string]int{},
	}
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func (f *fakeAPI) Entries(context.Context) (sharesdk.ShareData, error) {
	f.count("entries")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.share, f.entriesErr
}

func (f *fakeAPI) Comments(context.Context) ([]sharesdk.Comment, error) {
	f.count("comments")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sharesdk.Comment(nil), f.comments...), f.commentsErr
}

func (f *fakeAPI) Status(context.Context) ([]sharesdk.Submission, error) {
	f.count("status")
	// Snapshot before blocking so a gated call returns data as of its start.
	f.mu.Lock()
	gate := f.statusGate
	subs := append([]sharesdk.Submission(nil), f.subs...)
	err := f.statusErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return subs, err
}

func (f *fakeAPI) AddComment(_ context.Context, in sharesdk.CommentInput) error {
	f.count("add_comment")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, in)
	c := sharesdk.Comment{
		ID:         fmt.Sprintf("c%d", len(f.comments)+1),
		ContextID:  in.EvidenceID,
		AuthorName: in.AuthorName,
		AuthorRole: in.AuthorRole,
		Content:    in.Content,
	}
	if in.ParentID != "" {
		c.ParentID = strPtr(in.ParentID)
	}
	f.comments = append(f.comments, c)
	return nil
}

func (f *fakeAPI) Review(_ context.Context, in sharesdk.ReviewInput) error {
	f.count("review")
	f.mu.Lock()
	gate := f.reviewGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.reviews = append(f.reviews, in)
	if f.onReview != nil {
		f.onReview(in)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func loaded(t *testing.T, api *fakeAPI) *Session {
	t.Helper()
	s := New(api, Config{HasToken: true, SuccessFlash: 50 * time.Millisecond})
	t.Cleanup(s.Close)
	require.NoError(t, s.Load(context.Background()))
	require.Equal(t, StateReady, s.State())
	return s
}

func approveOnServer(api *fakeAPI) func(sharesdk.ReviewInput) {
	return func(in sharesdk.ReviewInput) {
		for i := range api.subs {
			if api.subs[i].ID == in.SubmissionID {
				api.subs[i].Status = domain.StatusApproved
			}
		}
	}
}

func TestLoadWithoutTokenMakesNoCalls(t *testing.T) {
	api := newFakeAPI()
	s := New(api, Config{HasToken: false})
	defer s.Close()

	err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, FailureInvalidLink, s.Failure())
	assert.Zero(t, api.totalCalls())
}

func TestLoadTerminalStates(t *testing.T) {
	t.Run("expired payload", func(t *testing.T) {
		api := newFakeAPI()
		api.entriesErr = fmt.Errorf("%w: revoked", sharesdk.ErrExpired)
		s := New(api, Config{HasToken: true})
		defer s.Close()
		require.Error(t, s.Load(context.Background()))
		assert.Equal(t, StateExpired, s.State())
		assert.Equal(t, FailureNone, s.Failure())
		assert.Zero(t, api.callCount("comments"))
	})
	t.Run("transport error", func(t *testing.T) {
		api := newFakeAPI()
		api.entriesErr = &sharesdk.APIError{StatusCode: 404}
		s := New(api, Config{HasToken: true})
		defer s.Close()
		require.Error(t, s.Load(context.Background()))
		assert.Equal(t, StateError, s.State())
		assert.Equal(t, FailureNotFound, s.Failure())
	})
	t.Run("no exit from terminal state", func(t *testing.T) {
		api := newFakeAPI()
		api.entriesErr = errors.New("boom")
		s := New(api, Config{HasToken: true})
		defer s.Close()
		_ = s.Load(context.Background())
		api.entriesErr = nil
		require.NoError(t, s.Load(context.Background()))
		assert.Equal(t, StateError, s.State())
		assert.Equal(t, 1, api.callCount("entries"))
		assert.ErrorIs(t, s.ReloadComments(context.Background()), ErrNotReady)
	})
}

func TestLoadSurvivesSideCallFailures(t *testing.T) {
	api := newFakeAPI()
	api.commentsErr = errors.New("comments down")
	api.statusErr = errors.New("status down")
	s := loaded(t, api)

	v := s.View()
	assert.Len(t, v.Entries, len(api.share.Entries))
	assert.Empty(t, v.Pending)
	assert.Empty(t, v.Reviewed)
	for _, e := range v.Entries {
		assert.Zero(t, e.CommentCount)
	}
}

func TestHeaderCountsMatchSource(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	v := s.View()
	assert.Len(t, v.Entries, 2)
	assert.Equal(t, 2, v.PendingCount())
	require.Len(t, v.Reviewed, 1)
	assert.Equal(t, "s3", v.Reviewed[0].ID)
}

func TestReloadIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.comments = []sharesdk.Comment{{ID: "c1", ContextID: "e1", Content: "first"}}
	s := loaded(t, api)
	before := s.View()

	require.NoError(t, s.ReloadComments(context.Background()))
	require.NoError(t, s.ReloadSubmissions(context.Background()))
	require.NoError(t, s.ReloadComments(context.Background()))

	if diff := cmp.Diff(before, s.View()); diff != "" {
		t.Fatalf("view changed after reload (-before +after):\n%s", diff)
	}
}

func TestAddCommentPreconditionsIssueNoCalls(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	before := api.totalCalls()

	s.SetCommentDraft("e1", "Looks good")
	assert.ErrorIs(t, s.AddComment(context.Background(), "e1"), ErrMissingName)

	s.SetReviewerName("   ")
	assert.ErrorIs(t, s.AddComment(context.Background(), "e1"), ErrMissingName)

	s.SetReviewerName("Ann Assessor")
	s.SetCommentDraft("e1", "  \n ")
	assert.ErrorIs(t, s.AddComment(context.Background(), "e1"), ErrEmptyContent)

	assert.Equal(t, before, api.totalCalls())
	assert.Equal(t, "  \n ", s.CommentDraft("e1"))
	assert.Zero(t, s.CommentCount("e1"))
}

func TestAddCommentSuccess(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("  Ann Assessor ")
	require.NoError(t, s.SetReviewerRole("tutor"))
	s.SetCommentDraft("e1", "  Clear photos  ")

	require.NoError(t, s.AddComment(context.Background(), "e1"))

	require.Len(t, api.added, 1)
	assert.Equal(t, sharesdk.CommentInput{AuthorName: "Ann Assessor", AuthorRole: "tutor", Content: "Clear photos", EvidenceID: "e1"}, api.added[0])
	assert.Empty(t, s.CommentDraft("e1"))
	assert.True(t, s.CommentSucceeded("e1"))
	assert.False(t, s.CommentBusy("e1"))
	assert.Equal(t, 1, s.CommentCount("e1"))
	assert.Zero(t, s.CommentCount("e2"))
	assert.Equal(t, 2, api.callCount("comments"))

	assert.Eventually(t, func() bool { return !s.CommentSucceeded("e1") }, time.Second, 10*time.Millisecond)
}

func TestAddCommentFailurePreservesDraft(t *testing.T) {
	api := newFakeAPI()
	api.addErr = errors.New("network down")
	s := loaded(t, api)
	s.SetReviewerName("Ann")
	s.SetCommentDraft("e1", "Keep me")

	err := s.AddComment(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, "Keep me", s.CommentDraft("e1"))
	assert.False(t, s.CommentBusy("e1"))
	assert.False(t, s.CommentSucceeded("e1"))
	assert.Equal(t, 1, api.callCount("comments"))
}

func TestRoleIsConstrained(t *testing.T) {
	s := New(newFakeAPI(), Config{HasToken: true})
	defer s.Close()
	assert.Equal(t, "assessor", s.Identity().Role)
	assert.ErrorIs(t, s.SetReviewerRole("apprentice"), ErrUnknownRole)
	assert.Equal(t, "assessor", s.Identity().Role)
	assert.False(t, s.CanWrite())
}

func TestThreadNestsRepliesAndKeepsOrphans(t *testing.T) {
	api := newFakeAPI()
	api.comments = []sharesdk.Comment{
		{ID: "c1", ContextID: "e1", Content: "root"},
		{ID: "c2", ContextID: "e2", Content: "other item"},
		{ID: "c3", ContextID: "e1", Content: "second root"},
		{ID: "c4", ContextID: "e1", ParentID: strPtr("c1"), Content: "reply"},
		{ID: "c5", ContextID: "e1", ParentID: strPtr("c2"), Content: "cross-item reply"},
	}
	s := loaded(t, api)

	thread := s.Thread("e1")
	var got []string
	for _, item := range thread {
		got = append(got, fmt.Sprintf("%s:%d:%v", item.Comment.ID, item.Depth, item.Orphan))
	}
	assert.Equal(t, []string{"c1:0:false", "c4:1:false", "c3:0:false", "c5:0:true"}, got)
	assert.Equal(t, 4, s.CommentCount("e1"))
	assert.Equal(t, 1, s.CommentCount("e2"))
}

func TestSendBackRequiresFeedback(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("Ann")

	assert.ErrorIs(t, s.CanReview("s1", domain.ActionSendBack), ErrMissingFeedback)
	assert.ErrorIs(t, s.Review(context.Background(), "s1", domain.ActionSendBack), ErrMissingFeedback)
	s.SetForm("s1", ReviewForm{Feedback: "   "})
	assert.ErrorIs(t, s.Review(context.Background(), "s1", domain.ActionSendBack), ErrMissingFeedback)
	assert.Zero(t, api.callCount("review"))

	assert.NoError(t, s.CanReview("s1", domain.ActionApprove))
	assert.NoError(t, s.CanReview("s1", domain.ActionRequestMoreEvidence))
}

func TestReviewRequiresNameAndPendingSubmission(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	assert.ErrorIs(t, s.CanReview("s1", domain.ActionApprove), ErrMissingName)
	s.SetReviewerName("Ann")
	assert.ErrorIs(t, s.CanReview("s3", domain.ActionApprove), ErrNotPending)
	assert.ErrorIs(t, s.CanReview("nope", domain.ActionApprove), ErrUnknownSubmission)
	assert.ErrorIs(t, s.CanReview("s1", "reject"), ErrUnknownAction)
	assert.Zero(t, api.callCount("review"))
}

func TestApproveHidesOptimisticallyBeforeReload(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("Ann")
	s.OpenDrawer("s1")
	s.SetForm("s1", ReviewForm{Feedback: "  Great work ", Grade: "merit", Strengths: " "})
	api.onReview = approveOnServer(api)

	gate := make(chan struct{})
	api.mu.Lock()
	api.statusGate = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Review(context.Background(), "s1", domain.ActionApprove) }()

	// The review has landed but the follow-up reload is blocked.
	require.Eventually(t, func() bool { return api.callCount("status") == 2 }, time.Second, 5*time.Millisecond)
	for _, p := range s.Pending() {
		assert.NotEqual(t, "s1", p.ID)
	}
	assert.False(t, s.DrawerOpen("s1"))
	assert.Equal(t, ReviewForm{}, s.Form("s1"))
	n, ok := s.Notice()
	require.True(t, ok)
	assert.Equal(t, "Installation: approved", n.String())

	close(gate)
	require.NoError(t, <-done)

	require.Len(t, api.reviews, 1)
	in := api.reviews[0]
	assert.Equal(t, "Great work", in.Feedback)
	assert.Equal(t, "merit", in.Grade)
	assert.Empty(t, in.Strengths)
	assert.Equal(t, "assessor", in.ReviewerRole)

	var reviewedIDs []string
	for _, sub := range s.Reviewed() {
		reviewedIDs = append(reviewedIDs, sub.ID)
	}
	assert.ElementsMatch(t, []string{"s1", "s3"}, reviewedIDs)

	s.DismissNotice()
	_, ok = s.Notice()
	assert.False(t, ok)
}

func TestAuthoritativeReloadUnhidesContradictedReview(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("Ann")
	// Server accepts the call but the status never changes.

	require.NoError(t, s.Review(context.Background(), "s1", domain.ActionApprove))

	var ids []string
	for _, p := range s.Pending() {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "s1")
}

func TestStaleReloadDoesNotUnhide(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("Ann")

	// A reload that started before the review completes after it.
	gate := make(chan struct{})
	api.mu.Lock()
	api.statusGate = gate
	api.mu.Unlock()
	stale := make(chan error, 1)
	go func() { stale <- s.ReloadSubmissions(context.Background()) }()
	require.Eventually(t, func() bool { return api.callCount("status") == 2 }, time.Second, 5*time.Millisecond)

	api.mu.Lock()
	api.statusGate = nil
	api.onReview = approveOnServer(api)
	api.mu.Unlock()

	// Review succeeds; its own reload runs unblocked and applies first.
	require.NoError(t, s.Review(context.Background(), "s1", domain.ActionApprove))
	close(gate)
	require.NoError(t, <-stale)

	for _, p := range s.Pending() {
		assert.NotEqual(t, "s1", p.ID)
	}
}

func TestFailedReloadAfterReviewKeepsLists(t *testing.T) {
	api := newFakeAPI()
	api.comments = []sharesdk.Comment{{ID: "c1", ContextID: "e1", Content: "first"}}
	s := loaded(t, api)
	s.SetReviewerName("Ann")

	api.mu.Lock()
	api.statusErr = errors.New("status down")
	api.commentsErr = errors.New("comments down")
	api.mu.Unlock()

	require.NoError(t, s.Review(context.Background(), "s1", domain.ActionApprove))
	require.Error(t, s.ReloadComments(context.Background()))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "s2", pending[0].ID)
	require.Len(t, s.Reviewed(), 1)
	assert.Len(t, s.Comments("e1"), 1)

	// The next successful reload is the authoritative one.
	api.mu.Lock()
	api.statusErr = nil
	approveOnServer(api)(sharesdk.ReviewInput{SubmissionID: "s1"})
	api.mu.Unlock()
	require.NoError(t, s.ReloadSubmissions(context.Background()))
	assert.Len(t, s.Pending(), 1)
	assert.Len(t, s.Reviewed(), 2)
}

type redactingAPI struct {
	*fakeAPI
	secret string
}

func (r redactingAPI) Redact(text string) string {
	return strings.ReplaceAll(text, r.secret, "[redacted]")
}

func TestLoggedErrorsAreRedacted(t *testing.T) {
	api := newFakeAPI()
	api.statusErr = errors.New("no share for tok-secret")
	api.addErr = errors.New("tok-secret rejected")
	core, logs := observer.New(zap.DebugLevel)
	s := New(redactingAPI{fakeAPI: api, secret: "tok-secret"}, Config{HasToken: true, Logger: zap.New(core)})
	t.Cleanup(s.Close)
	require.NoError(t, s.Load(context.Background()))

	s.SetReviewerName("Ann")
	s.SetCommentDraft("e1", "hello")
	require.Error(t, s.AddComment(context.Background(), "e1"))

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "tok-secret", "field %s of %q", k, entry.Message)
		}
	}
}

func TestReviewFailureKeepsDraftAndVisibility(t *testing.T) {
	api := newFakeAPI()
	api.reviewErr = &sharesdk.RPCError{Procedure: sharesdk.RPCReview, Message: "invalid transition"}
	s := loaded(t, api)
	s.SetReviewerName("Ann")
	form := ReviewForm{Feedback: "Needs labels", Grade: "refer"}
	s.SetForm("s1", form)
	s.OpenDrawer("s1")

	require.Error(t, s.Review(context.Background(), "s1", domain.ActionSendBack))
	assert.Equal(t, form, s.Form("s1"))
	assert.True(t, s.DrawerOpen("s1"))
	assert.False(t, s.ReviewBusy("s1"))
	_, ok := s.Notice()
	assert.False(t, ok)
	assert.Len(t, s.Pending(), 2)
}

func TestBusyKeysAreIndependent(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.reviewGate = gate
	s := loaded(t, api)
	s.SetReviewerName("Ann")

	done := make(chan error, 1)
	go func() { done <- s.Review(context.Background(), "s1", domain.ActionApprove) }()
	require.Eventually(t, func() bool { return s.ReviewBusy("s1") }, time.Second, 5*time.Millisecond)

	// Same submission: every action is disabled.
	for _, action := range domain.Actions() {
		s.SetForm("s1", ReviewForm{Feedback: "x"})
		assert.ErrorIs(t, s.CanReview("s1", action), ErrBusy, action)
	}
	// Other submission and any evidence item stay enabled.
	assert.NoError(t, s.CanReview("s2", domain.ActionApprove))
	s.SetCommentDraft("e1", "Independent feedback")
	assert.NoError(t, s.CanComment("e1"))
	assert.False(t, s.CommentBusy("e1"))
	require.NoError(t, s.AddComment(context.Background(), "e1"))

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, s.ReviewBusy("s1"))
}

func TestDuplicateCommentWhileInFlight(t *testing.T) {
	api := &blockingCommentAPI{fakeAPI: newFakeAPI(), gate: make(chan struct{})}
	s := New(api, Config{HasToken: true})
	defer s.Close()
	require.NoError(t, s.Load(context.Background()))
	s.SetReviewerName("Ann")
	s.SetCommentDraft("e1", "one")
	s.SetCommentDraft("e2", "two")

	done := make(chan error, 1)
	go func() { done <- s.AddComment(context.Background(), "e1") }()
	require.Eventually(t, func() bool { return s.CommentBusy("e1") }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.AddComment(context.Background(), "e1"), ErrBusy)
	assert.NoError(t, s.CanComment("e2"))

	close(api.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, api.callCount("add_comment"))
}

type blockingCommentAPI struct {
	*fakeAPI
	gate chan struct{}
}

func (b *blockingCommentAPI) AddComment(ctx context.Context, in sharesdk.CommentInput) error {
	<-b.gate
	return b.fakeAPI.AddComment(ctx, in)
}

func TestIdentityReadAtSubmitTime(t *testing.T) {
	api := newFakeAPI()
	s := loaded(t, api)
	s.SetReviewerName("Anne Typo")
	s.OpenDrawer("s1")
	s.SetReviewerName("Ann Correct")
	require.NoError(t, s.SetReviewerRole("employer"))

	require.NoError(t, s.Review(context.Background(), "s1", domain.ActionRequestMoreEvidence))
	require.Len(t, api.reviews, 1)
	assert.Equal(t, "Ann Correct", api.reviews[0].ReviewerName)
	assert.Equal(t, "employer", api.reviews[0].ReviewerRole)
}

func TestCloseDiscardsLateResults(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.reviewGate = gate
	s := New(api, Config{HasToken: true, SuccessFlash: time.Hour})
	require.NoError(t, s.Load(context.Background()))
	s.SetReviewerName("Ann")
	s.SetCommentDraft("e1", "bye")
	require.NoError(t, s.AddComment(context.Background(), "e1"))
	require.True(t, s.CommentSucceeded("e1"))

	done := make(chan error, 1)
	go func() { done <- s.Review(context.Background(), "s1", domain.ActionApprove) }()
	require.Eventually(t, func() bool { return s.ReviewBusy("s1") }, time.Second, 5*time.Millisecond)

	s.Close()
	close(gate)
	require.NoError(t, <-done)
	_, ok := s.Notice()
	assert.False(t, ok)
	assert.False(t, s.CommentSucceeded("e1"))
	assert.ErrorIs(t, s.ReloadComments(context.Background()), ErrClosed)
}

func TestPreviousAttempt(t *testing.T) {
	assert.Zero(t, PreviousAttempt(sharesdk.Submission{SubmissionCount: 1}))
	assert.Zero(t, PreviousAttempt(sharesdk.Submission{SubmissionCount: 2, PreviousFeedback: strPtr(" ")}))
	assert.Equal(t, 1, PreviousAttempt(sharesdk.Submission{SubmissionCount: 2, PreviousFeedback: strPtr("redo")}))
	assert.Equal(t, 3, PreviousAttempt(sharesdk.Submission{SubmissionCount: 4, PreviousFeedback: strPtr("again")}))
}
