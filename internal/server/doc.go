// Package server exposes the chat hub over HTTP.
//
// GET /ws upgrades to a WebSocket and runs one session.Session per connection
// on top of a gorilla transport; upgrades are filtered by an origin allow-list
// and throttled per client IP. GET / and GET /healthz answer a plain-text
// health check.
package server
