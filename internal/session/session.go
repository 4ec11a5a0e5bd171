// Package session keeps ephemeral per-connection records in Redis: which user
// a WebSocket connection speaks for and which conversation rooms it joined.
package session
