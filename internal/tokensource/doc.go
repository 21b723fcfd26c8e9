// Package tokensource obtains fresh credentials from the backing service.
//
// The service deviates from standard OAuth2 refresh in several ways that
// require custom handling:
//   - The refresh token is presented as a bearer credential, not as a form field
//   - The request has no body; the response wraps the new pair in a "data" object
//
// # Refresher
//
// Use NewRefresher with the API base URL:
//
//	r, err := tokensource.NewRefresher("http://localhost:8000/api/")
//	creds, err := r.Refresh(ctx, refreshToken)
//
// # Store token source
//
// FromStore exposes the current stored credential as an oauth2.TokenSource
// for collaborators built around golang.org/x/oauth2. It never refreshes on
// its own; refresh is coordinated by the request pipeline.
package tokensource
