package tokenstore

import "context"

// Durable record keys. A key missing from a Record means the field is absent.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserID       = "userId"
	KeyName         = "name"
	KeyEmail        = "email"
	KeyRole         = "role"
)

// recordKeys lists every key a Store ever writes.
var recordKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUserID, KeyName, KeyEmail, KeyRole}

// Record is the durable key/value form of a session.
type Record map[string]string

// Backend reads and writes the durable session record.
type Backend interface {
	// Read returns the stored record. A backend with nothing stored returns
	// an empty record and no error.
	Read(ctx context.Context) (Record, error)

	// Write replaces the stored record. Keys with empty values are removed;
	// writing an empty record removes all stored state.
	Write(ctx context.Context, record Record) error
}

// compact drops empty values so backends only persist present fields.
func (r Record) compact() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
