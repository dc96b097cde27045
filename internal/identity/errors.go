// ABOUTME: Error types for identity provider token requests
// ABOUTME: Distinguishes consent-required rejections from other authentication failures

package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthFailure is matched by every token request rejection.
	ErrAuthFailure = errors.New("identity: authentication failed")

	// ErrConsentRequired is matched when the rejection asks for user or admin consent.
	// Every consent error also matches ErrAuthFailure.
	ErrConsentRequired = errors.New("identity: consent required")
)

// Error describes a rejected token request.
type Error struct {
	Flow        string // "app" or "obo"
	Code        string // OAuth error code, e.g. "invalid_grant"
	Description string
	Consent     bool
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("identity: %s token request rejected", e.Flow)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Err != nil && e.Code == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether the target is one of the package sentinels this error stands for.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return true
	case ErrConsentRequired:
		return e.Consent
	}
	return false
}

// consentCodes are OAuth error codes and AADSTS numbers that mean a user or
// administrator must grant the requested scopes first.
var consentCodes = []string{"consent_required", "interaction_required", "AADSTS65001"}

func isConsentError(code, description string) bool {
	for _, c := range consentCodes {
		if strings.EqualFold(code, c) || strings.Contains(description, c) {
			return true
		}
	}
	return false
}
