package sharesdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path   string
	apikey string
	params map[string]any
}

func newRPCServer(t *testing.T, reply func(name string, params map[string]any) (int, string)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		calls = append(calls, recorded{path: r.URL.Path, apikey: r.Header.Get("apikey"), params: params})
		status, body := reply(strings.TrimPrefix(r.URL.Path, "/rest/v1/rpc/"), params)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestShareInjectsTokenIntoEveryCall(t *testing.T) {
	srv, calls := newRPCServer(t, func(name string, _ map[string]any) (int, string) {
		switch name {
		case RPCEntries:
			return 200, `{"share_id":"s1","owner_name":"Sam","entries":[{"id":"e1","title":"Wiring"}]}`
		case RPCComments:
			return 200, `[{"id":"c1","context_id":"e1","content":"ok"}]`
		case RPCStatus:
			return 200, `{"submissions":[{"id":"sub1","status":"submitted","submission_count":1}]}`
		default:
			return 200, `{"success":true}`
		}
	})
	share := New(srv.URL+"/rest/v1/", "anon-key").Share("tok-1")
	ctx := context.Background()

	data, err := share.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sam", data.OwnerName)
	require.Len(t, data.Entries, 1)

	comments, err := share.Comments(ctx)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	subs, err := share.Status(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	require.NoError(t, share.AddComment(ctx, CommentInput{AuthorName: "Ann", AuthorRole: "tutor", Content: "good", EvidenceID: "e1"}))
	require.NoError(t, share.Review(ctx, ReviewInput{SubmissionID: "sub1", ReviewerName: "Ann", ReviewerRole: "tutor", Action: "approve"}))

	require.Len(t, *calls, 5)
	for _, c := range *calls {
		assert.Equal(t, "tok-1", c.params["share_token"], c.path)
		assert.Equal(t, "anon-key", c.apikey)
		assert.True(t, strings.HasPrefix(c.path, "/rest/v1/rpc/"), c.path)
	}
}

func TestEntriesDistinguishesExpiredFromTransportError(t *testing.T) {
	srv, _ := newRPCServer(t, func(_ string, params map[string]any) (int, string) {
		switch params["share_token"] {
		case "expired":
			return 200, `{"error":true}`
		case "revoked":
			return 200, `{"error":"share link has been revoked"}`
		default:
			return 404, `{"error":{"code":"not_found","message":"share not found"}}`
		}
	})
	client := New(srv.URL+"/rest/v1", "")

	_, err := client.Share("expired").Entries(context.Background())
	assert.ErrorIs(t, err, ErrExpired)

	_, err = client.Share("revoked").Entries(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	assert.Contains(t, err.Error(), "revoked")

	_, err = client.Share("unknown").Entries(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.False(t, errors.Is(err, ErrExpired))
}

func TestReviewOmitsBlankOptionalFields(t *testing.T) {
	srv, calls := newRPCServer(t, func(string, map[string]any) (int, string) { return 200, `{}` })
	err := New(srv.URL+"/rest/v1", "").Share("tok").Review(context.Background(), ReviewInput{
		SubmissionID: "sub1",
		ReviewerName: "  Ann  ",
		ReviewerRole: "assessor",
		Action:       "send_back",
		Feedback:     "  needs photos ",
		Grade:        "",
		Strengths:    "   ",
	})
	require.NoError(t, err)
	params := (*calls)[0].params
	assert.Equal(t, "Ann", params["reviewer_name"])
	assert.Equal(t, "needs photos", params["feedback"])
	assert.NotContains(t, params, "grade")
	assert.NotContains(t, params, "strengths")
	assert.NotContains(t, params, "action_required")
}

func TestWriteRejectionAndRedaction(t *testing.T) {
	srv, _ := newRPCServer(t, func(name string, params map[string]any) (int, string) {
		if name == RPCAddComment {
			return 200, `{"error":"evidence not visible through this share"}`
		}
		return 400, fmt.Sprintf(`{"echo":%q}`, params["share_token"])
	})
	share := New(srv.URL+"/rest/v1", "").Share("secret-token")

	err := share.AddComment(context.Background(), CommentInput{AuthorName: "a", Content: "b", EvidenceID: "x"})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, RPCAddComment, rpcErr.Procedure)

	err = share.Review(context.Background(), ReviewInput{SubmissionID: "s", Action: "approve"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.NotContains(t, fmt.Sprint(share), "secret-token")
}

func TestEchoedTokenRedactedFromRPCErrors(t *testing.T) {
	srv, _ := newRPCServer(t, func(name string, params map[string]any) (int, string) {
		return 200, fmt.Sprintf(`{"error":"no share for %s"}`, params["share_token"])
	})
	share := New(srv.URL+"/rest/v1", "").Share("secret-token")

	_, err := share.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, RPCStatus+": no share for [redacted]", err.Error())

	_, err = share.Entries(context.Background())
	require.ErrorIs(t, err, ErrExpired)
	assert.NotContains(t, err.Error(), "secret-token")

	err = share.AddComment(context.Background(), CommentInput{AuthorName: "a", Content: "b", EvidenceID: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.Equal(t, "[redacted] expired", share.Redact("secret-token expired"))
}

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		raw  string
		msg  string
		isEr bool
	}{
		{"", "", false},
		{"null", "", false},
		{"false", "error", false},
		{"true", "error", true},
		{`"gone"`, "gone", true},
		{`{"message":"bad"}`, "bad", true},
	}
	for _, c := range cases {
		msg, ok := errorMessage(json.RawMessage(c.raw))
		assert.Equal(t, c.isEr, ok, c.raw)
		if ok {
			assert.Equal(t, c.msg, msg, c.raw)
		}
	}
}
