package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage for the session record.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// The whole record is one keyring secret, so a write replaces every field at once.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Backend
var _ Backend = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Read returns the record from the system keyring. A missing entry is an empty record.
func (k *KeyringStore) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	record := Record{}
	if secret == "" {
		return record, nil
	}
	if err := json.Unmarshal([]byte(secret), &record); err != nil {
		return nil, fmt.Errorf("decoding keyring entry for service %s, user %s: %w", k.service, k.user, err)
	}
	return record.compact(), nil
}

// Write persists the record to the system keyring, overwriting any existing value.
// An empty record deletes the entry.
func (k *KeyringStore) Write(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record = record.compact()
	if len(record) == 0 {
		if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
		return nil
	}

	secret, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	return keyring.Set(k.service, k.user, string(secret))
}
