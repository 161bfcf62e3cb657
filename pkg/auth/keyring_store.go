package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "gitsnap"

// KeyringStore keeps the token in the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store after checking the keychain works
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

func (k *KeyringStore) Name() string { return "system keyring" }

// Get reads the token from the keychain
func (k *KeyringStore) Get(host string) (string, error) {
	token, err := keyring.Get(keyringService, host)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to retrieve from keyring: %w", err)
	}
	return token, nil
}

// Set writes the token to the keychain
func (k *KeyringStore) Set(host, token string) error {
	if host == "" || token == "" {
		return ErrInvalidToken
	}
	if err := keyring.Set(keyringService, host, token); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Delete removes the token from the keychain
func (k *KeyringStore) Delete(host string) error {
	err := keyring.Delete(keyringService, host)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
