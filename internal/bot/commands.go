// ABOUTME: Parses chat commands from signed-in users and runs them
// ABOUTME: Handles help, notify, install, and whoami

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/2389/coven-notifier/internal/directory"
	"github.com/2389/coven-notifier/internal/identity"
	"github.com/2389/coven-notifier/internal/notify"
	"github.com/2389/coven-notifier/internal/signin"
	"github.com/2389/coven-notifier/internal/store"
)

// HelpText lists the supported commands.
const HelpText = "Here's what I can do:\n\n" +
	"- **help**: show this message\n" +
	"- **notify <user> [message]**: send a notification to a user who has the app installed\n" +
	"- **install <user>**: install the app for a user (Global Administrators only)\n" +
	"- **whoami**: show who you're signed in as"

// Notifier sends proactive notifications.
type Notifier interface {
	SendProactiveNotification(ctx context.Context, target, tenantID, message string) (notify.Result, error)
}

// TokenExchanger trades a delegated token for one with other scopes.
type TokenExchanger interface {
	ExchangeOnBehalfOf(ctx context.Context, userToken string, scopes []string) (identity.Token, error)
}

// Profiles reads the signed-in user's directory profile.
type Profiles interface {
	GetMe(ctx context.Context, token string) (*directory.User, error)
	GetOrganization(ctx context.Context, token string) ([]directory.Organization, error)
}

// Request is one command invocation.
type Request struct {
	Text     string
	TenantID string
	State    store.SignInState
}

// Router dispatches commands to their handlers.
type Router struct {
	notifier        Notifier
	exchanger       TokenExchanger
	profiles        Profiles
	delegatedScopes []string
	logger          *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(notifier Notifier, exchanger TokenExchanger, profiles Profiles, delegatedScopes []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		notifier:        notifier,
		exchanger:       exchanger,
		profiles:        profiles,
		delegatedScopes: delegatedScopes,
		logger:          logger.With("component", "commands"),
	}
}

var mentionPattern = regexp.MustCompile(`(?is)<at>.*?</at>`)

// parseCommand strips mentions and splits text into a lower-cased command
// name and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(mentionPattern.ReplaceAllString(text, " "))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// Dispatch runs the command in req and returns the reply text. An error is
// returned only for failures the user can't act on.
func (r *Router) Dispatch(ctx context.Context, req Request) (string, error) {
	name, args := parseCommand(req.Text)
	r.logger.Debug("dispatching command", "command", name, "args", len(args))

	switch name {
	case "", "help":
		return HelpText, nil
	case "notify":
		return r.notify(ctx, req, args)
	case "install":
		return r.install(req, args), nil
	case "whoami":
		return r.whoami(ctx, req)
	default:
		return fmt.Sprintf("I don't know the command %q. Type **help** to see what I can do.", name), nil
	}
}

func (r *Router) notify(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: notify <user> [message]", nil
	}
	target := args[0]
	message := strings.Join(args[1:], " ")

	res, err := r.notifier.SendProactiveNotification(ctx, target, req.TenantID, message)
	switch {
	case err == nil && res.Outcome == notify.OutcomeNotInstalled:
		return fmt.Sprintf("%s doesn't have the app installed.", target), nil
	case err == nil:
		return fmt.Sprintf("Sent a notification to %s.", target), nil
	case errors.Is(err, identity.ErrAuthFailure):
		return fmt.Sprintf("I couldn't get permission to look up %s. Check the app registration and try again.", target), nil
	case errors.Is(err, directory.ErrLookupFailure):
		return fmt.Sprintf("I couldn't find a conversation with %s in the directory.", target), nil
	case errors.Is(err, notify.ErrDeliveryFailure):
		return fmt.Sprintf("I couldn't deliver the notification to %s.", target), nil
	default:
		return "", fmt.Errorf("notify %s: %w", target, err)
	}
}

func (r *Router) install(req Request, args []string) string {
	if len(args) == 0 {
		return "Usage: install <user>"
	}
	if !signin.IsAdmin(req.State) {
		return "Only a Global Administrator can install the app for other users."
	}
	return fmt.Sprintf("Installing the app for %s is not yet supported.", args[0])
}

func (r *Router) whoami(ctx context.Context, req Request) (string, error) {
	if r.exchanger == nil || r.profiles == nil {
		return "Profile lookup is not yet supported on this transport.", nil
	}

	tok, err := r.exchanger.ExchangeOnBehalfOf(ctx, req.State.DelegatedToken, r.delegatedScopes)
	switch {
	case errors.Is(err, identity.ErrConsentRequired):
		return "I need your consent to read your profile. An administrator has to grant it for the app, because signing in again from this conversation isn't supported yet.", nil
	case errors.Is(err, identity.ErrAuthFailure):
		return "I couldn't use your stored sign-in to read your profile. It may have expired or been revoked, and signing in again from this conversation isn't supported yet.", nil
	case err != nil:
		return "", fmt.Errorf("whoami: %w", err)
	}

	me, err := r.profiles.GetMe(ctx, tok.AccessToken)
	if err != nil {
		if errors.Is(err, directory.ErrLookupFailure) {
			return "I couldn't read your profile from the directory.", nil
		}
		return "", fmt.Errorf("whoami: %w", err)
	}

	name := me.DisplayName
	if name == "" {
		name = me.UserPrincipalName
	}
	reply := fmt.Sprintf("You're signed in as %s (%s)", name, me.UserPrincipalName)

	orgs, err := r.profiles.GetOrganization(ctx, tok.AccessToken)
	if err != nil {
		r.logger.Warn("organization lookup failed", "error", err)
	} else if len(orgs) > 0 && orgs[0].DisplayName != "" {
		reply += " in " + orgs[0].DisplayName
	}
	if signin.IsAdmin(req.State) {
		reply += ". You're a Global Administrator."
	} else {
		reply += "."
	}
	return reply, nil
}
