// Package gateway orchestrates the coven-notifier server components.
//
// # Overview
//
// The gateway package wires the notifier together from configuration and
// serves it over HTTP. It owns the store, the transport, the bot turn
// handler, the proactive notifier, and the listener lifecycle.
//
// # HTTP API
//
//   - POST /api/messages - inbound activities from the bot service
//   - POST /api/postmessage - send a proactive notification {id, tenantId, message?}
//   - POST /api/install - app installation (501, not yet supported)
//   - GET /api/notifications?limit=N - most recent notification ledger entries
//   - GET /health - liveness check
//   - GET /health/ready - readiness check (store ping)
//   - GET {metrics.path} - Prometheus metrics when enabled
//
// The /api/postmessage, /api/install, and /api/notifications routes require a
// bearer token when api.jwt_secret is set; /api/postmessage is additionally
// rate limited per client. /api/messages answers 400 for bodies that are not
// JSON activities.
//
// # Status Codes for /api/postmessage
//
//	200  delivered
//	412  the target user has no installation of the app
//	400  missing id or tenantId, or a malformed body
//	429  rate limited
//	502  identity, directory, or transport failure
//	504  the request was canceled or timed out
//
// # Listeners
//
// Without tailscale the server listens on server.http_addr. With tailscale
// enabled it joins the tailnet through tsnet and, with funnel set, serves
// public HTTPS on :443 so the bot service can reach the messaging endpoint.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts the server down gracefully with a fresh five second deadline and
// then closes the dedupe cache, rate limiter, tailscale node, and store.
package gateway
