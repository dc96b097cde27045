// Package config handles configuration loading for coven-notifier.
//
// # Overview
//
// Configuration is loaded from a YAML (or TOML, by ".toml" extension) file with
// environment variable expansion. Optional fields receive defaults and the
// result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_NOTIFIER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/notifier.yaml
//  3. ~/.config/coven/notifier.yaml
//
// # Environment Variable Expansion
//
// Secrets should come from the environment:
//
//	app:
//	  client_secret: "${COVEN_APP_SECRET}"
//
// # Configuration Sections
//
// Application credential (required):
//
//	app:
//	  client_id: "00000000-0000-0000-0000-000000000000"
//	  client_secret: "${COVEN_APP_SECRET}"
//	  teams_app_id: "11111111-1111-1111-1111-111111111111"
//	  bot_name: "Notifier"
//
// Transport:
//
//	transport:
//	  kind: "botframework"                          # or "matrix"
//	  service_url: "https://smba.trafficmanager.net/teams/"
//
// Storage:
//
//	database:
//	  path: ":memory:"   # or a SQLite file path
//
// API protection:
//
//	api:
//	  jwt_secret: "${COVEN_API_SECRET}"   # at least 32 bytes; empty disables auth
//	  rate_limit_per_minute: 60
//
// Durations (identity.token_timeout, dedupe.ttl) use time.ParseDuration syntax.
package config
