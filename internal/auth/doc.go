// Package auth provides token handling for coven-notifier.
//
// # Directory Claims
//
// Delegated tokens captured by sign-in are decoded offline into DirectoryClaims.
// No signature check happens here; the claims only gate features inside the bot:
//
//	claims, err := ParseDirectoryClaims(token)
//	if err == nil && claims.HasRole(GlobalAdministratorRoleID) { ... }
//
// IsGlobalAdmin wraps that check and answers false for absent or malformed tokens.
//
// # API Tokens
//
// The outward HTTP API (/api/postmessage, /api/notifications) accepts HS256 JWTs
// signed with the configured api.jwt_secret:
//
//	verifier, err := NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("ops-script", 24*time.Hour)
//
// HTTPAuthMiddleware rejects requests without a valid bearer token with 401
// and stores an AuthContext for handlers to read via FromContext.
package auth
