package auth

import "os"

// TokenEnvVars are read in order by EnvironmentStore
var TokenEnvVars = []string{"GITSNAP_GITHUB_TOKEN", "GITHUB_TOKEN"}

// EnvironmentStore reads the token from environment variables. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

// Get returns the first non-empty token variable
func (e *EnvironmentStore) Get(host string) (string, error) {
	for _, name := range TokenEnvVars {
		if token := os.Getenv(name); token != "" {
			return token, nil
		}
	}
	return "", ErrTokenNotFound
}

// Set is not supported for environment variables
func (e *EnvironmentStore) Set(host, token string) error {
	return ErrStoreReadOnly
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(host string) error {
	return ErrStoreReadOnly
}
