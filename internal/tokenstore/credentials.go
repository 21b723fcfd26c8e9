package tokenstore

import (
	"golang.org/x/oauth2"
)

// Credentials is the access/refresh token pair. An empty string means absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether both tokens are absent.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// OAuth2 converts the pair into a bearer oauth2.Token.
func (c Credentials) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
	}
}

// Identity describes the signed-in user. Fields are all set or all empty.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Empty reports whether no field is set.
func (i Identity) Empty() bool {
	return i.UserID == "" && i.Name == "" && i.Email == "" && i.Role == ""
}

// complete reports whether every field is set.
func (i Identity) complete() bool {
	return i.UserID != "" && i.Name != "" && i.Email != "" && i.Role != ""
}

// Snapshot is an immutable view of the stored session.
type Snapshot struct {
	Credentials Credentials
	Identity    Identity
}

func (s Snapshot) record() Record {
	return Record{
		KeyAccessToken:  s.Credentials.AccessToken,
		KeyRefreshToken: s.Credentials.RefreshToken,
		KeyUserID:       s.Identity.UserID,
		KeyName:         s.Identity.Name,
		KeyEmail:        s.Identity.Email,
		KeyRole:         s.Identity.Role,
	}.compact()
}

func snapshotFromRecord(r Record) Snapshot {
	return Snapshot{
		Credentials: Credentials{
			AccessToken:  r[KeyAccessToken],
			RefreshToken: r[KeyRefreshToken],
		},
		Identity: Identity{
			UserID: r[KeyUserID],
			Name:   r[KeyName],
			Email:  r[KeyEmail],
			Role:   r[KeyRole],
		},
	}
}
