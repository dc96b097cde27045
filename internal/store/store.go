// ABOUTME: Store interface and data types for coven-notifier persistence
// ABOUTME: Defines sign-in state per conversation and the notification ledger

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SignInStatus is where a conversation stands in the sign-in flow
type SignInStatus string

const (
	SignInUnauthenticated SignInStatus = "unauthenticated"
	SignInChallenged      SignInStatus = "challenged"
	SignInAuthenticated   SignInStatus = "authenticated"
)

// SignInState is the per-conversation sign-in record.
// DelegatedToken is only set while Status is SignInAuthenticated.
type SignInState struct {
	ConversationKey string
	Status          SignInStatus
	DelegatedToken  string
	ChallengeID     string // token exchange resource id of the outstanding challenge
	UpdatedAt       time.Time
}

// NotificationOutcome is the result of a proactive notification attempt
type NotificationOutcome string

const (
	OutcomeDelivered    NotificationOutcome = "delivered"
	OutcomeNotInstalled NotificationOutcome = "not_installed"
	OutcomeFailed       NotificationOutcome = "failed"
)

// NotificationRecord is one entry in the notification ledger
type NotificationRecord struct {
	ID             string
	Target         string
	TenantID       string
	Outcome        NotificationOutcome
	ConversationID string
	ActivityID     string
	Error          string
	CreatedAt      time.Time
}

// SignInStore persists sign-in state keyed by conversation.
// A conversation with no state yet reads as ErrNotFound.
type SignInStore interface {
	GetSignInState(ctx context.Context, conversationKey string) (*SignInState, error)
	SaveSignInState(ctx context.Context, state *SignInState) error
}

// NotificationLedger records proactive notification attempts
type NotificationLedger interface {
	RecordNotification(ctx context.Context, rec *NotificationRecord) error
	// ListNotifications returns the most recent records first
	ListNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error)
}

// Store combines all persistence used by the notifier
type Store interface {
	SignInStore
	NotificationLedger
	Ping(ctx context.Context) error
	Close() error
}

// Listing bounds for ListNotifications
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
