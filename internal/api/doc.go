// Package api serves the console's local status API.
//
// It is meant for operators and supervisors on the same host as
// "hmsconsole serve", so it listens on loopback by default and carries no
// authentication of its own:
//
//	GET  /api/v1/health           component health
//	GET  /api/v1/metrics          runtime and renewal statistics (JSON)
//	GET  /api/v1/session          session state and identity
//	POST /api/v1/session/verify   re-check the identity with the backend
//	POST /api/v1/session/logout   end the session
//	GET  /api/v1/session/events   live session events (WebSocket)
//	GET  /api/v1/session/audit    recorded session events, when the audit trail is enabled
//	GET  /metrics                 Prometheus exposition
//
// Credentials never leave the session layer; responses carry only the
// identity record.
package api
