// ABOUTME: Tests for offline directory claim decoding
// ABOUTME: Covers role id matching, case-insensitivity, and malformed tokens

package auth

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directoryToken builds a token the way the directory would hand it over. The
// signing key is irrelevant because claims are read unverified.
func directoryToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unrelated-signing-key"))
	require.NoError(t, err)
	return token
}

func TestParseDirectoryClaims(t *testing.T) {
	token := directoryToken(t, jwt.MapClaims{
		"sub":                "subject-1",
		"oid":                "object-1",
		"tid":                "tenant-1",
		"name":               "Ada Lovelace",
		"preferred_username": "ada@contoso.com",
		"scp":                "User.Read Chat.ReadBasic",
		"wids":               []string{"b79fbf4d-3ef9-4689-8143-76b194e85509"},
		"aud":                "api://notifier",
	})

	claims, err := ParseDirectoryClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "object-1", claims.ObjectID)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "Ada Lovelace", claims.DisplayName())
	assert.Equal(t, []string{"b79fbf4d-3ef9-4689-8143-76b194e85509"}, claims.RoleIDs)
	assert.False(t, claims.HasRole(GlobalAdministratorRoleID))
}

func TestIsGlobalAdmin(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  bool
	}{
		{
			name: "admin role present",
			token: func(t *testing.T) string {
				return directoryToken(t, jwt.MapClaims{"wids": []string{"other", GlobalAdministratorRoleID}})
			},
			want: true,
		},
		{
			name: "admin role in upper case",
			token: func(t *testing.T) string {
				return directoryToken(t, jwt.MapClaims{"wids": []string{strings.ToUpper(GlobalAdministratorRoleID)}})
			},
			want: true,
		},
		{
			name: "no wids claim",
			token: func(t *testing.T) string {
				return directoryToken(t, jwt.MapClaims{"sub": "someone"})
			},
			want: false,
		},
		{
			name: "different role",
			token: func(t *testing.T) string {
				return directoryToken(t, jwt.MapClaims{"wids": []string{"b79fbf4d-3ef9-4689-8143-76b194e85509"}})
			},
			want: false,
		},
		{
			name:  "empty token",
			token: func(*testing.T) string { return "" },
			want:  false,
		},
		{
			name:  "malformed token",
			token: func(*testing.T) string { return "definitely.not.ajwt" },
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGlobalAdmin(tt.token(t)))
		})
	}
}

func TestParseDirectoryClaims_Malformed(t *testing.T) {
	_, err := ParseDirectoryClaims("garbage")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = ParseDirectoryClaims("")
	assert.ErrorIs(t, err, ErrMalformedToken)
}
