// ABOUTME: Turn handler for inbound transport activities
// ABOUTME: Routes messages through sign-in to commands and answers sign-in invokes

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/coven-notifier/internal/dedupe"
	"github.com/2389/coven-notifier/internal/signin"
	"github.com/2389/coven-notifier/internal/transport"
)

// Reply texts
const (
	WelcomeText   = "Hi! I can send notifications to people in your organization. Type **help** to get started."
	SignedInText  = "You're signed in. Type **help** to see what I can do."
	TurnErrorText = "Sorry, it looks like something went wrong."
)

// Recorder observes inbound activities.
type Recorder interface {
	RecordActivity(activityType string)
	RecordDuplicate()
}

// Handler processes one inbound activity per call. Different conversations
// may be handled concurrently.
type Handler struct {
	machine   *signin.Machine
	router    *Router
	transport transport.Transport
	seen      *dedupe.Cache
	recorder  Recorder
	logger    *slog.Logger
}

// NewHandler creates a Handler. seen and recorder may be nil.
func NewHandler(machine *signin.Machine, router *Router, t transport.Transport, seen *dedupe.Cache, recorder Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		machine:   machine,
		router:    router,
		transport: t,
		seen:      seen,
		recorder:  recorder,
		logger:    logger.With("component", "bot"),
	}
}

// HandleActivity processes an inbound activity. Invokes get a non-nil
// response; other activity types return nil. Failures while handling a
// message are logged and answered in the conversation.
func (h *Handler) HandleActivity(ctx context.Context, a *transport.Activity) *transport.InvokeResponse {
	if h.recorder != nil {
		h.recorder.RecordActivity(a.Type)
	}

	key := dedupe.Key(a.Conversation.ID, a.ID)
	if h.seen != nil && a.ID != "" && h.seen.Seen(key) {
		h.logger.Debug("dropping redelivered activity", "activity_id", a.ID, "conversation_id", a.Conversation.ID)
		if h.recorder != nil {
			h.recorder.RecordDuplicate()
		}
		if a.Type == transport.ActivityInvoke {
			return &transport.InvokeResponse{Status: http.StatusOK}
		}
		return nil
	}

	var (
		resp *transport.InvokeResponse
		err  error
	)
	switch a.Type {
	case transport.ActivityMessage:
		err = h.onMessage(ctx, a)
	case transport.ActivityInvoke:
		resp, err = h.onInvoke(ctx, a)
	case transport.ActivityConversationUpdate:
		err = h.onConversationUpdate(ctx, a)
	default:
		h.logger.Debug("ignoring activity", "type", a.Type)
	}

	if err != nil {
		h.onTurnError(ctx, a, err)
		if a.Type == transport.ActivityInvoke {
			resp = &transport.InvokeResponse{Status: http.StatusInternalServerError}
		}
	}
	return resp
}

func (h *Handler) onMessage(ctx context.Context, a *transport.Activity) error {
	h.sendTyping(ctx, a)

	state, err := h.machine.Load(ctx, a.Conversation.ID)
	if err != nil {
		return err
	}

	res := h.machine.OnMessage(state)
	if res.Challenge != nil {
		// persist the challenge id before the card can be answered
		if err := h.machine.Save(ctx, res); err != nil {
			return err
		}
		return h.send(ctx, a, res.Challenge)
	}

	reply, err := h.router.Dispatch(ctx, Request{
		Text:     a.Text,
		TenantID: a.TenantID(),
		State:    res.State,
	})
	if err != nil {
		return err
	}
	return h.reply(ctx, a, reply)
}

func (h *Handler) onInvoke(ctx context.Context, a *transport.Activity) (*transport.InvokeResponse, error) {
	if a.Name != transport.InvokeSignInVerifyState && a.Name != transport.InvokeSignInTokenExchange {
		h.logger.Debug("unhandled invoke", "name", a.Name)
		return &transport.InvokeResponse{Status: http.StatusNotImplemented}, nil
	}

	state, err := h.machine.Load(ctx, a.Conversation.ID)
	if err != nil {
		return nil, err
	}
	var res signin.Result
	if a.Name == transport.InvokeSignInTokenExchange {
		res = h.machine.OnTokenExchange(state, a.Value)
	} else {
		res = h.machine.OnVerifyState(state, a.Value)
	}

	if err := h.machine.Save(ctx, res); err != nil {
		return nil, err
	}

	if res.Changed && res.Authenticated {
		h.logger.Info("user signed in", "conversation_id", a.Conversation.ID, "user", a.From.ID)
		if err := h.reply(ctx, a, SignedInText); err != nil {
			h.logger.Warn("failed to confirm sign-in", "error", err)
		}
	}

	if a.Name == transport.InvokeSignInTokenExchange && !res.Authenticated {
		// ask the client to fall back to the sign-in card
		return &transport.InvokeResponse{
			Status: http.StatusPreconditionFailed,
			Body: tokenExchangeFailure{
				ID:             exchangeID(a.Value),
				ConnectionName: h.machine.ConnectionName(),
				FailureDetail:  "The bot is unable to exchange this token.",
			},
		}, nil
	}
	return &transport.InvokeResponse{Status: http.StatusOK}, nil
}

type tokenExchangeFailure struct {
	ID             string `json:"id"`
	ConnectionName string `json:"connectionName"`
	FailureDetail  string `json:"failureDetail"`
}

// exchangeID returns the id the client sent with a token exchange, or ""
// when the payload does not decode.
func exchangeID(payload json.RawMessage) string {
	var value transport.VerifyStateValue
	if len(payload) == 0 || json.Unmarshal(payload, &value) != nil {
		return ""
	}
	return value.ID
}

func (h *Handler) onConversationUpdate(ctx context.Context, a *transport.Activity) error {
	for _, m := range a.MembersAdded {
		if m.ID == a.Recipient.ID {
			h.logger.Info("bot added to conversation", "conversation_id", a.Conversation.ID, "tenant_id", a.TenantID())
			return h.reply(ctx, a, WelcomeText)
		}
	}
	return nil
}

func (h *Handler) onTurnError(ctx context.Context, a *transport.Activity, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn("turn abandoned", "type", a.Type, "conversation_id", a.Conversation.ID, "error", err)
		if h.seen != nil && a.ID != "" {
			h.seen.Forget(dedupe.Key(a.Conversation.ID, a.ID))
		}
		return
	}

	h.logger.Error("turn failed", "type", a.Type, "conversation_id", a.Conversation.ID, "error", err)
	if sendErr := h.reply(ctx, a, TurnErrorText); sendErr != nil {
		h.logger.Error("failed to send error reply", "error", sendErr)
	}
}

func (h *Handler) sendTyping(ctx context.Context, a *transport.Activity) {
	typing := &transport.Activity{
		Type:         transport.ActivityTyping,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
	}
	if _, err := h.transport.SendActivity(ctx, a.Ref(), typing); err != nil {
		h.logger.Debug("failed to send typing indicator", "error", err)
	}
}

func (h *Handler) reply(ctx context.Context, in *transport.Activity, text string) error {
	return h.send(ctx, in, transport.ReplyTo(in, text))
}

func (h *Handler) send(ctx context.Context, in *transport.Activity, out *transport.Activity) error {
	if out.Conversation.ID == "" {
		out.Conversation = in.Conversation
	}
	if out.Recipient.ID == "" {
		out.From, out.Recipient = in.Recipient, in.From
	}
	_, err := h.transport.SendActivity(ctx, in.Ref(), out)
	return err
}
