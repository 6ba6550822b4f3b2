package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPartitionIsDisjoint(t *testing.T) {
	all := append(append([]string{}, pendingStatuses...), reviewedStatuses...)
	for _, s := range all {
		assert.NotEqual(t, IsPending(s), IsReviewed(s), "status %s must be in exactly one bucket", s)
	}
	assert.False(t, IsPending("draft"))
	assert.False(t, IsReviewed("draft"))
}

func TestInitials(t *testing.T) {
	cases := map[string]string{
		"jane doe":         "JD",
		"  Ann  ":          "A",
		"mary jane watson": "MJ",
		"":                 "",
		"émile zola":       "ÉZ",
	}
	for in, want := range cases {
		assert.Equal(t, want, Initials(in), in)
	}
}

func TestVocabulary(t *testing.T) {
	assert.True(t, IsReviewerRole("employer"))
	assert.False(t, IsReviewerRole("apprentice"))
	assert.True(t, IsGrade("not_yet_competent"))
	assert.False(t, IsGrade("fail"))
	assert.True(t, IsAction(ActionRequestMoreEvidence))
	assert.Equal(t, "sent back", ActionLabel(ActionSendBack))
}
