// ABOUTME: Proactive notification delivery into a user's existing bot conversation
// ABOUTME: Resolves the conversation, opens a 1:1 thread, and sends one activity

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-notifier/internal/conversation"
	"github.com/2389/coven-notifier/internal/store"
	"github.com/2389/coven-notifier/internal/transport"
)

// ErrDeliveryFailure is matched by errors raised while listing members,
// creating the conversation, or sending the activity.
var ErrDeliveryFailure = errors.New("notify: delivery failed")

// Outcome is the terminal result of a notification that did not fail.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeNotInstalled Outcome = "not_installed"
)

// outcomeFailed is only used for the ledger and metrics.
const outcomeFailed = "failed"

// Resolver finds a user's conversation with the bot.
type Resolver interface {
	ResolveConversation(ctx context.Context, user, tenantID string) (conversation.Resolution, error)
}

// Recorder observes notification outcomes.
type Recorder interface {
	RecordNotification(outcome string)
}

// Result describes a finished notification.
type Result struct {
	Outcome        Outcome
	ConversationID string
	ActivityID     string
}

// Config identifies the bot and controls message rendering.
type Config struct {
	BotID          string
	BotName        string
	DefaultMessage string
	RenderMarkdown bool
}

// Notifier sends proactive notifications.
type Notifier struct {
	resolver  Resolver
	transport transport.Transport
	ledger    store.NotificationLedger
	recorder  Recorder
	formatter *Formatter
	cfg       Config
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// New creates a Notifier. ledger and recorder may be nil.
func New(cfg Config, resolver Resolver, t transport.Transport, ledger store.NotificationLedger, recorder Recorder, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		resolver:  resolver,
		transport: t,
		ledger:    ledger,
		recorder:  recorder,
		formatter: NewFormatter(cfg.RenderMarkdown),
		cfg:       cfg,
		logger:    logger.With("component", "notify"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// SendProactiveNotification delivers message to target in tenantID. An empty
// message uses the configured default. A user without the app installed is
// reported as OutcomeNotInstalled with no transport calls made.
func (n *Notifier) SendProactiveNotification(ctx context.Context, target, tenantID, message string) (Result, error) {
	if message == "" {
		message = n.cfg.DefaultMessage
	}
	rec := &store.NotificationRecord{Target: target, TenantID: tenantID}

	res, err := n.deliver(ctx, target, tenantID, message, rec)
	if err != nil {
		rec.Outcome = store.OutcomeFailed
		rec.Error = err.Error()
		n.logger.Warn("notification failed", "target", target, "tenant_id", tenantID, "error", err)
		n.finish(ctx, rec, outcomeFailed)
		return Result{}, err
	}

	rec.Outcome = store.NotificationOutcome(res.Outcome)
	n.finish(ctx, rec, string(res.Outcome))
	return res, nil
}

func (n *Notifier) deliver(ctx context.Context, target, tenantID, message string, rec *store.NotificationRecord) (Result, error) {
	resolution, err := n.resolver.ResolveConversation(ctx, target, tenantID)
	if err != nil {
		return Result{}, err
	}
	if !resolution.Installed {
		n.logger.Info("target has no installation", "target", target, "tenant_id", tenantID)
		return Result{Outcome: OutcomeNotInstalled}, nil
	}

	members, err := n.transport.GetConversationMembers(ctx, resolution.ConversationID)
	if err != nil {
		return Result{}, deliveryError("listing members", err)
	}
	if len(members) == 0 {
		return Result{}, fmt.Errorf("%w: conversation %s has no members", ErrDeliveryFailure, resolution.ConversationID)
	}

	params := transport.ConversationParameters{
		IsGroup:  false,
		Bot:      transport.Account{ID: n.cfg.BotID, Name: n.cfg.BotName},
		Members:  []transport.Account{members[0]},
		TenantID: tenantID,
	}
	ref, err := n.transport.CreateConversation(ctx, params)
	if err != nil {
		return Result{}, deliveryError("creating conversation", err)
	}
	rec.ConversationID = ref.ID

	activityID, err := n.transport.SendActivity(ctx, ref, n.formatter.Format(message))
	if err != nil {
		return Result{}, deliveryError("sending activity", err)
	}
	rec.ActivityID = activityID

	n.logger.Info("notification delivered", "target", target, "conversation_id", ref.ID)
	return Result{
		Outcome:        OutcomeDelivered,
		ConversationID: ref.ID,
		ActivityID:     activityID,
	}, nil
}

// deliveryError wraps transport errors, leaving cancellation unwrapped.
func deliveryError(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, step, err)
}

func (n *Notifier) finish(ctx context.Context, rec *store.NotificationRecord, outcome string) {
	if n.recorder != nil {
		n.recorder.RecordNotification(outcome)
	}
	if n.ledger == nil {
		return
	}
	rec.ID = n.newID()
	rec.CreatedAt = n.now().UTC()
	// the attempt already happened; record it even if the caller gave up
	if err := n.ledger.RecordNotification(context.WithoutCancel(ctx), rec); err != nil {
		n.logger.Error("failed to record notification", "id", rec.ID, "error", err)
	}
}
