package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

type conversationFixture struct {
	service  *ConversationService
	sessions *stubSessionStore
	jobs     *stubJobRepo
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	f := &conversationFixture{
		sessions: newStubSessionStore(),
		jobs:     newStubJobRepo(),
	}

	svc, err := NewConversationService(ConversationServiceOptions{
		Sessions:     f.sessions,
		Jobs:         newTestJobService(t, f.jobs),
		Logger:       slog.Default(),
		TimeProvider: &fixedTimeProvider{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func TestConversationIntake(t *testing.T) {
	ctx := context.Background()

	t.Run("full intake builds a profile and notifies", func(t *testing.T) {
		f := newConversationFixture(t)

		session, question, err := f.service.StartSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.StateEducation, session.State)
		assert.Contains(t, question, "education")

		reply, err := f.service.HandleMessage(ctx, session.ID, "I have a Master's degree in physics")
		require.NoError(t, err)
		assert.Equal(t, model.StateEmployment, reply.State)
		assert.NotEmpty(t, reply.Question)
		assert.False(t, reply.Completed)

		reply, err = f.service.HandleMessage(ctx, session.ID, "Yes, I work in finance")
		require.NoError(t, err)
		assert.Equal(t, model.StateDirection, reply.State)

		reply, err = f.service.HandleMessage(ctx, session.ID, "I'd like to switch to something new")
		require.NoError(t, err)
		assert.Equal(t, model.StateInterest, reply.State)

		reply, err = f.service.HandleMessage(ctx, session.ID, "data engineering, python and statistics")
		require.NoError(t, err)
		assert.Equal(t, model.StateCompleted, reply.State)
		assert.True(t, reply.Completed)
		assert.Empty(t, reply.Question)

		require.NotNil(t, reply.Profile)
		assert.Equal(t, "Master's degree", reply.Profile.EducationLevel)
		assert.True(t, reply.Profile.Employed)
		assert.Equal(t, "finance", reply.Profile.Industry)
		assert.Equal(t, "open", reply.Profile.Direction)
		assert.Equal(t, []string{"data engineering", "python", "statistics"}, reply.Profile.Interests)

		// The completed profile persists with the session.
		stored, err := f.service.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Profile)
		assert.Len(t, stored.Answers, 4)

		notifies := f.jobs.createdOfType(model.JobTypeNotify)
		require.Len(t, notifies, 1)
		var payload model.NotifyJobPayload
		require.NoError(t, json.Unmarshal(notifies[0].Payload, &payload))
		assert.Equal(t, "profile-complete", payload.TemplateID)
		assert.Equal(t, session.ID, payload.Recipient)
		assert.Equal(t, "open", payload.Variables["direction"])
	})

	t.Run("unrecognized answer re-asks without mutating", func(t *testing.T) {
		f := newConversationFixture(t)
		session, _, err := f.service.StartSession(ctx)
		require.NoError(t, err)

		reply, err := f.service.HandleMessage(ctx, session.ID, "purple monkey dishwasher")
		require.NoError(t, err)
		assert.True(t, reply.Redirected)
		assert.Equal(t, model.StateEducation, reply.State)
		assert.NotEmpty(t, reply.Redirect)
		assert.NotEmpty(t, reply.Question)

		stored, err := f.service.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateEducation, stored.State)
		assert.Empty(t, stored.Answers)
	})

	t.Run("blank message is rejected", func(t *testing.T) {
		f := newConversationFixture(t)
		session, _, err := f.service.StartSession(ctx)
		require.NoError(t, err)

		_, err = f.service.HandleMessage(ctx, session.ID, "   ")
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("unknown session is a state error", func(t *testing.T) {
		f := newConversationFixture(t)

		_, err := f.service.HandleMessage(ctx, "nope", "bachelor")
		var stateErr *domain.SessionStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "nope", stateErr.SessionID)
	})

	t.Run("corrupted stored state is rejected on load", func(t *testing.T) {
		f := newConversationFixture(t)
		session := &model.ConversationSession{ID: "mangled", State: "Q9_NONSENSE"}
		require.NoError(t, f.sessions.Save(ctx, session))

		_, err := f.service.GetSession(ctx, "mangled")
		var stateErr *domain.SessionStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "Q9_NONSENSE", stateErr.State)

		_, err = f.service.HandleMessage(ctx, "mangled", "bachelor")
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("completed session refuses further messages", func(t *testing.T) {
		f := newConversationFixture(t)
		session := &model.ConversationSession{ID: "done", State: model.StateCompleted}
		require.NoError(t, f.sessions.Save(ctx, session))

		_, err := f.service.HandleMessage(ctx, "done", "bachelor")
		var stateErr *domain.SessionStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, string(model.StateCompleted), stateErr.State)
	})
}

func TestConversationAbandon(t *testing.T) {
	ctx := context.Background()

	t.Run("active session can be abandoned", func(t *testing.T) {
		f := newConversationFixture(t)
		session, _, err := f.service.StartSession(ctx)
		require.NoError(t, err)

		require.NoError(t, f.service.AbandonSession(ctx, session.ID))

		stored, err := f.service.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateAbandoned, stored.State)
	})

	t.Run("abandoning twice is a state error", func(t *testing.T) {
		f := newConversationFixture(t)
		session, _, err := f.service.StartSession(ctx)
		require.NoError(t, err)
		require.NoError(t, f.service.AbandonSession(ctx, session.ID))

		err = f.service.AbandonSession(ctx, session.ID)
		var stateErr *domain.SessionStateError
		require.ErrorAs(t, err, &stateErr)
	})
}
