// Package identity acquires access tokens from the identity provider.
//
// Two grants are supported:
//
//   - GetAppToken: client-credentials for a tenant, scoped to the directory
//     ".default" scope. Optionally cached per tenant and scope until shortly
//     before expiry. With the cache on, concurrent misses for the same key
//     share one request.
//   - ExchangeOnBehalfOf: the jwt-bearer on-behalf-of exchange that swaps a
//     signed-in user's token for one carrying delegated scopes.
//
// Rejections are returned as *Error. Every *Error matches ErrAuthFailure;
// consent rejections additionally match ErrConsentRequired.
package identity
