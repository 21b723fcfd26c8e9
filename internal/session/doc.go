// Package session publishes the externally observable authentication status
// of the client.
//
// There are exactly two states, Unauthenticated and Authenticated. Refreshing
// an expired access token is an internal retry detail of the request pipeline
// and is never visible here. Route guards, status displays and the gateway's
// event stream subscribe to a Machine instead of polling.
package session
