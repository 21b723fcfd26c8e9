// Package tokenstore owns the client's credential pair and session identity
// and mirrors them to durable storage.
//
// Store is the single writer: every mutation is written to a Backend before
// the new in-memory snapshot is published, and readers only ever see complete
// snapshots. Store drives the session.Machine it owns, so authenticated status
// always follows the stored access token.
//
// Supports four durable backends with different security and deployment tradeoffs:
//   - File: Local JSON document with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Bolt: Embedded bbolt database, one key per field
//   - Memory: Process-local, for tests and throwaway sessions
package tokenstore
