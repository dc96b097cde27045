// ABOUTME: Resolves a Matrix user's direct room with the bot
// ABOUTME: A joined room shared only with the user counts as an installation

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RoomFinder finds the direct room the bot shares with a user.
type RoomFinder interface {
	FindDirectRoom(ctx context.Context, userID string) (string, bool, error)
}

// MatrixResolver resolves principals that are Matrix user ids. The tenant is
// ignored; a user who never invited the bot into a direct room is reported
// as not installed.
type MatrixResolver struct {
	rooms  RoomFinder
	logger *slog.Logger
}

// NewMatrixResolver creates a MatrixResolver.
func NewMatrixResolver(rooms RoomFinder, logger *slog.Logger) *MatrixResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixResolver{
		rooms:  rooms,
		logger: logger.With("component", "conversation"),
	}
}

// ResolveConversation returns the direct room shared with user.
func (r *MatrixResolver) ResolveConversation(ctx context.Context, user, tenantID string) (Resolution, error) {
	if !isMatrixUserID(user) {
		r.logger.Warn("principal is not a matrix user id", "user", user)
		return Resolution{}, nil
	}

	roomID, found, err := r.rooms.FindDirectRoom(ctx, user)
	if err != nil {
		return Resolution{}, fmt.Errorf("finding direct room: %w", err)
	}
	if !found {
		r.logger.Info("no direct room with user", "user", user)
		return Resolution{}, nil
	}

	r.logger.Debug("resolved conversation", "user", user, "conversation_id", roomID)
	return Resolution{
		ConversationID: roomID,
		InstallationID: roomID,
		Installed:      true,
	}, nil
}

// isMatrixUserID checks the @localpart:server shape.
func isMatrixUserID(s string) bool {
	local, server, ok := strings.Cut(strings.TrimPrefix(s, "@"), ":")
	return strings.HasPrefix(s, "@") && ok && local != "" && server != ""
}
