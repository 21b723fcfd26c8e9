package tokenstore

import (
	"fmt"
	"os"
)

// EnvStore seeds the session from a refresh token held in an environment
// variable. The variable is read once; rotated tokens live in process memory
// only, so a restart starts over from the variable.
// Suitable for headless runs where nothing may be written to disk.
type EnvStore struct {
	*MemoryStore
	envKey string
}

// Compile-time check to ensure EnvStore implements Backend
var _ Backend = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Returns error if the variable name is empty or not set in the environment.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	token, exists := os.LookupEnv(envKey)
	if !exists || token == "" {
		return nil, fmt.Errorf("environment variable %s not set", envKey)
	}

	return &EnvStore{
		MemoryStore: NewMemoryStore(Record{KeyRefreshToken: token}),
		envKey:      envKey,
	}, nil
}

