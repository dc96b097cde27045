// ABOUTME: Per-conversation sign-in state machine
// ABOUTME: Issues sign-in challenges and captures delegated tokens from verify-state events

package signin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-notifier/internal/auth"
	"github.com/2389/coven-notifier/internal/store"
	"github.com/2389/coven-notifier/internal/transport"
)

// ChallengeText is shown on the sign-in card.
const ChallengeText = "Please sign in so I can act on your behalf."

// Recorder observes state transitions.
type Recorder interface {
	RecordSignInTransition(to string)
}

// Result is the outcome of feeding one event to the machine. State is the
// state to persist; the input state is never modified.
type Result struct {
	State         store.SignInState
	Changed       bool
	Authenticated bool
	Challenge     *transport.Activity // sign-in card to send, if any
}

// Machine drives the sign-in flow of each conversation. It holds no
// per-conversation data itself; callers load state, pass it in, and save
// the returned state.
type Machine struct {
	states         store.SignInStore
	connectionName string
	recorder       Recorder
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
}

// NewMachine creates a Machine persisting state in states.
func NewMachine(states store.SignInStore, connectionName string, recorder Recorder, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		states:         states,
		connectionName: connectionName,
		recorder:       recorder,
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         logger.With("component", "signin"),
	}
}

// Load returns the conversation's state. A conversation never seen before
// starts out unauthenticated.
func (m *Machine) Load(ctx context.Context, conversationKey string) (store.SignInState, error) {
	state, err := m.states.GetSignInState(ctx, conversationKey)
	if errors.Is(err, store.ErrNotFound) {
		return store.SignInState{ConversationKey: conversationKey, Status: store.SignInUnauthenticated}, nil
	}
	if err != nil {
		return store.SignInState{}, fmt.Errorf("loading signin state: %w", err)
	}
	return *state, nil
}

// Save persists the result's state if it changed. Nothing is written once
// ctx is done, so a canceled turn leaves the stored state untouched.
func (m *Machine) Save(ctx context.Context, res Result) error {
	if !res.Changed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("saving signin state: %w", err)
	}
	if err := m.states.SaveSignInState(ctx, &res.State); err != nil {
		return fmt.Errorf("saving signin state: %w", err)
	}
	m.record(res.State.Status)
	return nil
}

// ConnectionName returns the OAuth connection named on sign-in cards.
func (m *Machine) ConnectionName() string { return m.connectionName }

// IsAuthenticated reports whether the state carries a usable delegated token.
func IsAuthenticated(state store.SignInState) bool {
	return state.Status == store.SignInAuthenticated && state.DelegatedToken != ""
}

// OnMessage handles an inbound message. Authenticated conversations pass
// through unchanged; any other conversation gets exactly one new challenge
// and moves to challenged.
func (m *Machine) OnMessage(state store.SignInState) Result {
	if IsAuthenticated(state) {
		return Result{State: state, Authenticated: true}
	}

	next := state
	next.Status = store.SignInChallenged
	next.DelegatedToken = ""
	next.ChallengeID = m.newID()
	next.UpdatedAt = m.now()

	m.logger.Debug("issuing sign-in challenge", "conversation", state.ConversationKey)
	return Result{
		State:     next,
		Changed:   true,
		Challenge: m.challenge(next.ChallengeID),
	}
}

// OnVerifyState handles a sign-in completion event. A token is accepted only
// when the conversation has an outstanding challenge and the payload carries
// a non-empty token. Anything else leaves the state as it was.
func (m *Machine) OnVerifyState(state store.SignInState, payload json.RawMessage) Result {
	return m.complete(state, payload, false)
}

// OnTokenExchange handles a single-sign-on token exchange. In addition to
// the verify-state rules the exchange id must match the outstanding challenge.
func (m *Machine) OnTokenExchange(state store.SignInState, payload json.RawMessage) Result {
	return m.complete(state, payload, true)
}

func (m *Machine) complete(state store.SignInState, payload json.RawMessage, matchChallenge bool) Result {
	unchanged := Result{State: state, Authenticated: IsAuthenticated(state)}

	value, ok := parseVerifyState(payload)
	if !ok {
		m.logger.Debug("ignoring verify-state without token", "conversation", state.ConversationKey)
		return unchanged
	}
	if state.Status != store.SignInChallenged {
		m.logger.Warn("ignoring token for conversation without outstanding challenge",
			"conversation", state.ConversationKey, "status", string(state.Status))
		return unchanged
	}
	if matchChallenge && value.ID != state.ChallengeID {
		m.logger.Warn("ignoring token exchange for a different challenge", "conversation", state.ConversationKey)
		return unchanged
	}

	next := state
	next.Status = store.SignInAuthenticated
	next.DelegatedToken = *value.Token
	next.ChallengeID = ""
	next.UpdatedAt = m.now()

	m.logger.Info("sign-in completed", "conversation", state.ConversationKey)
	return Result{State: next, Changed: true, Authenticated: true}
}

// parseVerifyState decodes the event payload, reporting false for null,
// malformed, or token-less payloads.
func parseVerifyState(payload json.RawMessage) (transport.VerifyStateValue, bool) {
	var value transport.VerifyStateValue
	if len(payload) == 0 {
		return value, false
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false
	}
	if value.Token == nil || *value.Token == "" {
		return value, false
	}
	return value, true
}

// IsAdmin reports whether the conversation's delegated token carries the
// Global Administrator role. Absent or malformed tokens are never admin.
func IsAdmin(state store.SignInState) bool {
	if !IsAuthenticated(state) {
		return false
	}
	return auth.IsGlobalAdmin(state.DelegatedToken)
}

func (m *Machine) challenge(challengeID string) *transport.Activity {
	return &transport.Activity{
		Type: transport.ActivityMessage,
		Attachments: []transport.Attachment{{
			ContentType: transport.ContentTypeOAuthCard,
			Content: &transport.OAuthCard{
				Text:                  ChallengeText,
				ConnectionName:        m.connectionName,
				TokenExchangeResource: &transport.TokenExchangeResource{ID: challengeID},
			},
		}},
	}
}

func (m *Machine) record(status store.SignInStatus) {
	if m.recorder != nil {
		m.recorder.RecordSignInTransition(string(status))
	}
}
