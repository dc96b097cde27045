// ABOUTME: Typed decoding of directory-issued access token claims
// ABOUTME: Inspects role ids offline without verifying the token signature

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// GlobalAdministratorRoleID is the directory role template id for Global Administrator.
const GlobalAdministratorRoleID = "62e90394-69f5-4237-9190-012177145e10"

// ErrMalformedToken is returned when a token cannot be decoded into claims.
var ErrMalformedToken = errors.New("malformed token")

// DirectoryClaims is the subset of directory access token claims the notifier reads.
type DirectoryClaims struct {
	jwt.RegisteredClaims
	ObjectID          string   `json:"oid,omitempty"`
	TenantID          string   `json:"tid,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	UPN               string   `json:"upn,omitempty"`
	Scope             string   `json:"scp,omitempty"`
	RoleIDs           []string `json:"wids,omitempty"`
}

// ParseDirectoryClaims decodes the token payload without verifying its signature.
// The token is trusted because it was handed over by the sign-in service; only
// claims are inspected here.
func ParseDirectoryClaims(token string) (*DirectoryClaims, error) {
	if token == "" {
		return nil, ErrMalformedToken
	}
	claims := &DirectoryClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// HasRole reports whether the claims carry the role id, compared case-insensitively.
func (c *DirectoryClaims) HasRole(roleID string) bool {
	for _, id := range c.RoleIDs {
		if strings.EqualFold(id, roleID) {
			return true
		}
	}
	return false
}

// IsGlobalAdmin reports whether the token's role ids include Global Administrator.
// Absent or malformed tokens are never admin.
func IsGlobalAdmin(token string) bool {
	claims, err := ParseDirectoryClaims(token)
	if err != nil {
		return false
	}
	return claims.HasRole(GlobalAdministratorRoleID)
}

// DisplayName picks the most readable identifier carried by the claims.
func (c *DirectoryClaims) DisplayName() string {
	for _, v := range []string{c.Name, c.PreferredUsername, c.UPN, c.Subject} {
		if v != "" {
			return v
		}
	}
	return ""
}
