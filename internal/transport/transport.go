// ABOUTME: Transport contract used by the notifier and the bot turn handler
// ABOUTME: Defines member listing, conversation creation, and activity delivery

package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrRequestFailed is matched by every failed transport request.
var ErrRequestFailed = errors.New("transport: request failed")

// Transport delivers activities to users.
type Transport interface {
	// GetConversationMembers lists the members of a conversation in transport order.
	GetConversationMembers(ctx context.Context, conversationID string) ([]Account, error)

	// CreateConversation creates (or reopens) a conversation and returns a handle to it.
	CreateConversation(ctx context.Context, params ConversationParameters) (ConversationRef, error)

	// SendActivity delivers one activity into the referenced conversation and
	// returns the transport's id for it.
	SendActivity(ctx context.Context, ref ConversationRef, activity *Activity) (string, error)
}

// APIError is a non-success response from a transport endpoint.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport: %s: status %d", e.Op, e.StatusCode)
}

// Is makes every APIError match ErrRequestFailed.
func (e *APIError) Is(target error) bool { return target == ErrRequestFailed }
