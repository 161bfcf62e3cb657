package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultHost is the account key tokens are stored under
const DefaultHost = "github.com"

// TokenStore stores one GitHub token per host
type TokenStore interface {
	// Name identifies the backend in messages
	Name() string

	// Get returns the token for host
	Get(host string) (string, error)

	// Set saves the token for host
	Set(host, token string) error

	// Delete removes the token for host
	Delete(host string) error
}

// Manager resolves the GitHub token from several stores in order
type Manager struct {
	stores []TokenStore
}

// NewManager creates a manager over the environment, the system keychain
// when available, and an encrypted file in the gitsnap config directory.
func NewManager() (*Manager, error) {
	stores := []TokenStore{NewEnvironmentStore()}

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(stores ...TokenStore) *Manager {
	return &Manager{stores: stores}
}

// Token returns the first token found and the name of the store holding it
func (m *Manager) Token() (string, string, error) {
	for _, store := range m.stores {
		if token, err := store.Get(DefaultHost); err == nil && token != "" {
			return token, store.Name(), nil
		}
	}
	return "", "", ErrTokenNotFound
}

// Store saves the token in the first writable store
func (m *Manager) Store(token string) (string, error) {
	token = strings.TrimSpace(token)
	if err := ValidateToken(token); err != nil {
		return "", err
	}

	var lastErr error
	for _, store := range m.stores {
		err := store.Set(DefaultHost, token)
		if err == nil {
			return store.Name(), nil
		}
		if !errors.Is(err, ErrStoreReadOnly) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to store token: %w", lastErr)
	}
	return "", ErrStoreUnavailable
}

// Delete removes the token from every writable store
func (m *Manager) Delete() error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(DefaultHost)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrStoreReadOnly):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	if !deleted {
		return ErrTokenNotFound
	}
	return nil
}

// ValidateToken rejects empty tokens and tokens containing whitespace
func ValidateToken(token string) error {
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return ErrInvalidToken
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "gitsnap")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "gitsnap")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "gitsnap")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "gitsnap")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
	ErrStoreReadOnly    = errors.New("token store is read-only")
)
