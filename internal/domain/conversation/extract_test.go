package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

func TestExtractEducation(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"I have a Bachelor's degree", "Bachelor's degree"},
		{"bachelor of science", "Bachelor's degree"},
		{"Finished my Master last year", "Master's degree"},
		{"PhD in physics", "Doctorate"},
		{"I did an apprenticeship", "Apprenticeship"},
		{"just high school", "High school"},
		{"none", "None"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			answer, err := Extract(model.StateEducation, tt.message)
			require.NoError(t, err)
			assert.Equal(t, QuestionEducation, answer.QuestionID)
			assert.Equal(t, tt.want, answer.Value)
			assert.Equal(t, tt.message, answer.Raw)
		})
	}
}

func TestExtractEducationUnrecognized(t *testing.T) {
	_, err := Extract(model.StateEducation, "the weather is nice")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestExtractEmployment(t *testing.T) {
	t.Run("employed with industry after comma", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "Yes, finance")
		require.NoError(t, err)
		assert.Equal(t, "employed", answer.Value)
		assert.Equal(t, "finance", answer.Attributes["industry"])
	})

	t.Run("employed with industry lead-in", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "I work in healthcare")
		require.NoError(t, err)
		assert.Equal(t, "employed", answer.Value)
		assert.Equal(t, "healthcare", answer.Attributes["industry"])
	})

	t.Run("employed without industry", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "yes")
		require.NoError(t, err)
		assert.Equal(t, "employed", answer.Value)
		assert.Empty(t, answer.Attributes["industry"])
	})

	t.Run("employed with profession lead-in", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "Yes, I work as an engineer")
		require.NoError(t, err)
		assert.Equal(t, "employed", answer.Value)
		assert.Equal(t, "engineer", answer.Attributes["profession"])
		assert.Empty(t, answer.Attributes["industry"])
	})

	t.Run("employed with profession and industry", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "Yes, I work as a nurse in healthcare")
		require.NoError(t, err)
		assert.Equal(t, "nurse", answer.Attributes["profession"])
		assert.Equal(t, "healthcare", answer.Attributes["industry"])
	})

	t.Run("employed with industry before profession", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "I work in finance as a data analyst")
		require.NoError(t, err)
		assert.Equal(t, "data analyst", answer.Attributes["profession"])
		assert.Equal(t, "finance", answer.Attributes["industry"])
	})

	t.Run("unemployed", func(t *testing.T) {
		answer, err := Extract(model.StateEmployment, "No, I'm between jobs")
		require.NoError(t, err)
		assert.Equal(t, "unemployed", answer.Value)
	})

	t.Run("unrecognized", func(t *testing.T) {
		_, err := Extract(model.StateEmployment, "purple")
		assert.ErrorIs(t, err, ErrUnrecognized)
	})
}

func TestExtractDirection(t *testing.T) {
	answer, err := Extract(model.StateDirection, "I'd rather deepen my current field")
	require.NoError(t, err)
	assert.Equal(t, DirectionDeepen, answer.Value)

	answer, err = Extract(model.StateDirection, "I'm open to a new area")
	require.NoError(t, err)
	assert.Equal(t, DirectionOpen, answer.Value)

	_, err = Extract(model.StateDirection, "hmm")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestExtractInterests(t *testing.T) {
	answer, err := Extract(model.StateInterest, "Cybersecurity, data science and cloud computing")
	require.NoError(t, err)
	assert.Equal(t, QuestionInterests, answer.QuestionID)
	assert.Equal(t, "cybersecurity,data science,cloud computing", answer.Attributes["topics"])

	answer, err = Extract(model.StateInterest, "cybersecurity")
	require.NoError(t, err)
	assert.Equal(t, "cybersecurity", answer.Value)

	_, err = Extract(model.StateInterest, "  ,, ")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestExtractTerminalState(t *testing.T) {
	_, err := Extract(model.StateCompleted, "anything")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestBuildProfile(t *testing.T) {
	answers := []model.Answer{
		{QuestionID: QuestionEducation, Value: "Bachelor's degree"},
		{QuestionID: QuestionEmployment, Value: "employed", Attributes: map[string]string{
			"industry":   "finance",
			"profession": "risk analyst",
		}},
		{QuestionID: QuestionDirection, Value: DirectionOpen},
		{QuestionID: QuestionInterests, Value: "cybersecurity", Attributes: map[string]string{"topics": "cybersecurity"}},
	}

	profile, ok := BuildProfile(answers)
	require.True(t, ok)
	assert.Equal(t, "Bachelor's degree", profile.EducationLevel)
	assert.True(t, profile.Employed)
	assert.Equal(t, "finance", profile.Industry)
	assert.Equal(t, "risk analyst", profile.Profession)
	assert.Equal(t, DirectionOpen, profile.Direction)
	assert.Equal(t, []string{"cybersecurity"}, profile.Interests)
}

func TestBuildProfileIncomplete(t *testing.T) {
	_, ok := BuildProfile([]model.Answer{
		{QuestionID: QuestionEducation, Value: "None"},
	})
	assert.False(t, ok)
}

func TestProfileQueryText(t *testing.T) {
	profile := model.UserProfile{
		EducationLevel: "Bachelor's degree",
		Employed:       true,
		Industry:       "finance",
		Profession:     "risk analyst",
		Direction:      DirectionDeepen,
		Interests:      []string{"fintech", "risk modeling"},
	}
	text := ProfileQueryText(profile)
	assert.Contains(t, text, "fintech risk modeling")
	assert.Contains(t, text, "finance")
	assert.Contains(t, text, "risk analyst")
	assert.Contains(t, text, "advanced finance")
	assert.Contains(t, text, "bachelor's degree")
}
