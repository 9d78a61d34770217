package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	redisstore "github.com/waiterbildung/course-advisor/internal/adapters/redis"
	"github.com/waiterbildung/course-advisor/internal/core"
	"github.com/waiterbildung/course-advisor/internal/data"
	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/conversation"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

// notifyTemplateProfileComplete is the template enqueued when a user finishes
// all four questions.
const notifyTemplateProfileComplete = "profile-complete"

// ConversationServiceOptions groups dependencies for ConversationService.
type ConversationServiceOptions struct {
	Sessions     core.SessionStore
	Jobs         *JobService // Optional: enqueues a notify job on completion
	Logger       *slog.Logger
	Metrics      statsd.Sink
	TimeProvider data.TimeProvider
}

// ConversationReply is what the engine says back after one inbound message.
type ConversationReply struct {
	SessionID  string             `json:"session_id"`
	State      model.SessionState `json:"state"`
	Question   string             `json:"question,omitempty"`
	Redirect   string             `json:"redirect,omitempty"`
	Completed  bool               `json:"completed"`
	Profile    *model.UserProfile `json:"profile,omitempty"`
	Redirected bool               `json:"redirected"`
}

// ConversationService drives the four-question intake dialogue. Answers are
// append-only; an unrecognized message re-asks the current question and
// leaves the session untouched.
type ConversationService struct {
	sessions     core.SessionStore
	jobs         *JobService
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider

	// Serializes concurrent messages for the same session so two racing
	// messages cannot both advance the state machine.
	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewConversationService constructs a ConversationService.
func NewConversationService(opts ConversationServiceOptions) (*ConversationService, error) {
	if opts.Sessions == nil {
		return nil, errors.New("SessionStore is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	return &ConversationService{
		sessions:     opts.Sessions,
		jobs:         opts.Jobs,
		logger:       opts.Logger.With("component", "conversation_service"),
		metrics:      opts.Metrics,
		timeProvider: opts.TimeProvider,
		locks:        make(map[string]*sessionLock),
	}, nil
}

// StartSession creates a fresh session and returns it with the first question.
func (s *ConversationService) StartSession(ctx context.Context) (*model.ConversationSession, string, error) {
	now := s.timeProvider.Now()
	session := &model.ConversationSession{
		ID:        uuid.NewString(),
		State:     conversation.InitialState,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, "", fmt.Errorf("save session: %w", err)
	}

	s.logger.DebugContext(ctx, "conversation started", "session_id", session.ID)
	if s.metrics != nil {
		s.metrics.Count("conversation.sessions_started", 1, nil)
	}
	return session, conversation.Question(session.State), nil
}

// GetSession loads a session by ID. Stored state is validated on load so a
// corrupted or hand-edited session surfaces as a SessionStateError instead of
// silently stalling the state machine.
func (s *ConversationService) GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, redisstore.ErrNotFound) {
			return nil, &domain.SessionStateError{SessionID: sessionID, Op: "get"}
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if _, err := conversation.ParseState(string(session.State)); err != nil {
		return nil, &domain.SessionStateError{
			SessionID: sessionID,
			State:     string(session.State),
			Op:        "load",
		}
	}
	return session, nil
}

// HandleMessage feeds one user message into the session's state machine.
//
// Recognized answers are appended and the machine advances; the reply carries
// the next question, or the completed profile after the final answer.
// Unrecognized messages leave the session unchanged and the reply re-asks the
// current question with a redirect line.
func (s *ConversationService) HandleMessage(
	ctx context.Context,
	sessionID, message string,
) (*ConversationReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &domain.ValidationError{Field: "message", Reason: "required"}
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, &domain.SessionStateError{
			SessionID: sessionID,
			State:     string(session.State),
			Op:        "message",
		}
	}

	answer, err := conversation.Extract(session.State, message)
	if err != nil {
		if errors.Is(err, conversation.ErrUnrecognized) {
			if s.metrics != nil {
				s.metrics.Count("conversation.redirects", 1, map[string]string{
					"state": string(session.State),
				})
			}
			return &ConversationReply{
				SessionID:  session.ID,
				State:      session.State,
				Redirect:   conversation.Redirect(session.State),
				Question:   conversation.Question(session.State),
				Redirected: true,
			}, nil
		}
		return nil, fmt.Errorf("extract answer: %w", err)
	}

	now := s.timeProvider.Now()
	session.Answers = append(session.Answers, conversation.StampAnswer(answer, now))

	next, ok := conversation.Next(session.State)
	if !ok {
		return nil, &domain.SessionStateError{
			SessionID: sessionID,
			State:     string(session.State),
			Op:        "advance",
		}
	}
	session.State = next
	session.UpdatedAt = now

	reply := &ConversationReply{
		SessionID: session.ID,
		State:     session.State,
	}

	if session.State == model.StateCompleted {
		profile, complete := conversation.BuildProfile(session.Answers)
		if !complete {
			// All four questions were answered, so an incomplete profile
			// means an extractor regression.
			return nil, fmt.Errorf("profile incomplete after final answer for session %s", sessionID)
		}
		session.Profile = &profile
		reply.Completed = true
		reply.Profile = &profile
	} else {
		reply.Question = conversation.Question(session.State)
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if reply.Completed {
		s.onCompleted(ctx, session)
	}
	return reply, nil
}

// AbandonSession moves an active session to the abandoned terminal state.
func (s *ConversationService) AbandonSession(ctx context.Context, sessionID string) error {
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !conversation.IsTransitionAllowed(session.State, model.StateAbandoned) {
		return &domain.SessionStateError{
			SessionID: sessionID,
			State:     string(session.State),
			Op:        "abandon",
		}
	}

	session.State = model.StateAbandoned
	session.UpdatedAt = s.timeProvider.Now()
	if err := s.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *ConversationService) onCompleted(ctx context.Context, session *model.ConversationSession) {
	s.logger.InfoContext(ctx, "conversation completed",
		"session_id", session.ID,
		"answers", len(session.Answers),
	)
	if s.metrics != nil {
		s.metrics.Count("conversation.sessions_completed", 1, nil)
	}
	if s.jobs == nil {
		return
	}

	payload, err := json.Marshal(model.NotifyJobPayload{
		TemplateID: notifyTemplateProfileComplete,
		Recipient:  session.ID,
		Variables: map[string]string{
			"education": session.Profile.EducationLevel,
			"direction": session.Profile.Direction,
			"interests": strings.Join(session.Profile.Interests, ", "),
		},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal notify payload", "session_id", session.ID, "error", err)
		return
	}

	if _, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeNotify,
		Payload: payload,
	}); err != nil {
		// Notification is best effort; the completed profile is already saved.
		s.logger.ErrorContext(ctx, "enqueue completion notify job",
			"session_id", session.ID, "error", err)
	}
}

func (s *ConversationService) lockSession(sessionID string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.locksMu.Unlock()
	}
}
