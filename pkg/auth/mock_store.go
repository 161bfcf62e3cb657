package auth

import "sync"

// MockStore is an in-memory TokenStore for tests
type MockStore struct {
	name   string
	tokens map[string]string
	mu     sync.RWMutex

	// Error injection
	GetError    error
	SetError    error
	DeleteError error
}

// NewMockStore creates an empty mock store
func NewMockStore(name string) *MockStore {
	return &MockStore{name: name, tokens: make(map[string]string)}
}

func (m *MockStore) Name() string { return m.name }

func (m *MockStore) Get(host string) (string, error) {
	if m.GetError != nil {
		return "", m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.tokens[host]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

func (m *MockStore) Set(host, token string) error {
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[host] = token
	return nil
}

func (m *MockStore) Delete(host string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[host]; !ok {
		return ErrTokenNotFound
	}
	delete(m.tokens, host)
	return nil
}
