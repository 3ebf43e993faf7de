package auth

import (
	"sort"
	"sync"
)

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	creds map[string]*Credential
	mu    sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{creds: make(map[string]*Credential)}
}

func (m *MockStore) Store(cred *Credential) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if cred == nil || cred.Handle == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.creds[cred.Handle] = &c
	return nil
}

func (m *MockStore) Retrieve(handle string) (*Credential, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	if handle == "" {
		return nil, ErrInvalidCredentials
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[handle]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	c := *cred
	return &c, nil
}

// List returns copies sorted by handle
func (m *MockStore) List() ([]*Credential, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Credential, 0, len(m.creds))
	for _, cred := range m.creds {
		c := *cred
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (m *MockStore) Delete(handle string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if handle == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[handle]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.creds, handle)
	return nil
}

func (m *MockStore) Exists(handle string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.creds[handle]
	return ok
}

// Count returns the number of stored credentials
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds)
}

// NewMockManager creates a Manager backed by a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
