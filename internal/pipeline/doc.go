// Package pipeline executes authenticated requests and recovers from access
// token expiry.
//
// Executor attaches the stored access token to each call. When a call comes
// back 401 it hands control to the Coordinator, which runs at most one
// refresh at a time: the first expired call starts the refresh, every later
// one queues behind it as a PendingCall and shares its outcome. On success
// each queued call is resent once with the new token; on failure the token
// store is cleared and every queued call fails with the same
// *ReauthFailedError.
package pipeline
