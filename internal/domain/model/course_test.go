package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTargetRequest() CreateTargetRequest {
	return CreateTargetRequest{
		Name:      "example-university",
		SourceURL: "https://courses.example.edu/catalog",
		Ruleset: RulesetConfig{
			Kind:  RulesetKindHTML,
			Item:  "div.course-card",
			Title: "h2.course-title",
		},
		ScheduleInterval: 6 * time.Hour,
		Enabled:          true,
	}
}

func TestCreateTargetRequest_Validate(t *testing.T) {
	req := validTargetRequest()
	assert.NoError(t, req.Validate())

	t.Run("missing name", func(t *testing.T) {
		req := validTargetRequest()
		req.Name = "  "
		assert.ErrorContains(t, req.Validate(), "name")
	})

	t.Run("bad scheme", func(t *testing.T) {
		req := validTargetRequest()
		req.SourceURL = "ftp://example.edu/catalog"
		assert.ErrorContains(t, req.Validate(), "http")
	})

	t.Run("no host", func(t *testing.T) {
		req := validTargetRequest()
		req.SourceURL = "https://"
		assert.ErrorContains(t, req.Validate(), "host")
	})

	t.Run("non-positive interval", func(t *testing.T) {
		req := validTargetRequest()
		req.ScheduleInterval = 0
		assert.ErrorContains(t, req.Validate(), "interval")
	})
}

func TestRulesetConfig_Validate(t *testing.T) {
	require.NoError(t, (&RulesetConfig{
		Kind:  RulesetKindJSON,
		Item:  "data.courses[]",
		Title: "name",
	}).Validate())

	assert.Error(t, (&RulesetConfig{Kind: "xml", Item: "a", Title: "b"}).Validate())
	assert.Error(t, (&RulesetConfig{Kind: RulesetKindHTML, Title: "b"}).Validate())
	assert.Error(t, (&RulesetConfig{Kind: RulesetKindHTML, Item: "a"}).Validate())
	assert.Error(t, (&RulesetConfig{Kind: RulesetKindHTML, Item: "a", Title: "b", MaxDepth: -1}).Validate())
}

func TestSessionStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateAbandoned.Terminal())
	assert.False(t, StateEducation.Terminal())
	assert.False(t, StateInterest.Terminal())
	assert.False(t, SessionState("bogus").Valid())
	assert.True(t, StateDirection.Valid())
}
