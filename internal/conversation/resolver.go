// ABOUTME: Resolves the existing bot conversation for a user in a tenant
// ABOUTME: Chains app token acquisition with the two directory lookups

package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-notifier/internal/identity"
)

// TokenSource acquires application-only tokens per tenant.
type TokenSource interface {
	GetAppToken(ctx context.Context, tenantID string) (identity.Token, error)
}

// Directory looks up app installations and their chats.
type Directory interface {
	FindInstalledApp(ctx context.Context, user, appExternalID, appToken string) (string, bool, error)
	GetInstalledAppConversation(ctx context.Context, user, installationID, appToken string) (string, error)
}

// Resolution is the outcome of resolving a user's conversation with the bot.
// Installed is false when the user has no installation of the app; the other
// fields are empty in that case.
type Resolution struct {
	ConversationID string
	InstallationID string
	Installed      bool
}

// Resolver finds the conversation bound to a user's installation of the bot app.
type Resolver struct {
	tokens        TokenSource
	directory     Directory
	appExternalID string
	logger        *slog.Logger
}

// NewResolver creates a Resolver for the app with the given catalog external id.
func NewResolver(tokens TokenSource, directory Directory, appExternalID string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tokens:        tokens,
		directory:     directory,
		appExternalID: appExternalID,
		logger:        logger.With("component", "conversation"),
	}
}

// ResolveConversation returns the chat id bound to the user's app installation.
// A missing installation short-circuits before the chat lookup and is reported
// as Installed == false with a nil error.
func (r *Resolver) ResolveConversation(ctx context.Context, user, tenantID string) (Resolution, error) {
	tok, err := r.tokens.GetAppToken(ctx, tenantID)
	if err != nil {
		return Resolution{}, fmt.Errorf("acquiring app token: %w", err)
	}

	installationID, found, err := r.directory.FindInstalledApp(ctx, user, r.appExternalID, tok.AccessToken)
	if err != nil {
		return Resolution{}, fmt.Errorf("finding installed app: %w", err)
	}
	if !found {
		r.logger.Info("app not installed", "user", user, "tenant_id", tenantID)
		return Resolution{}, nil
	}

	conversationID, err := r.directory.GetInstalledAppConversation(ctx, user, installationID, tok.AccessToken)
	if err != nil {
		return Resolution{}, fmt.Errorf("getting installed app conversation: %w", err)
	}

	r.logger.Debug("resolved conversation", "user", user, "conversation_id", conversationID)
	return Resolution{
		ConversationID: conversationID,
		InstallationID: installationID,
		Installed:      true,
	}, nil
}
