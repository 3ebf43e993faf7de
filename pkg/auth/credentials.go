package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"xscraper/pkg/config"
)

// Credential is the login secret for one identity
type Credential struct {
	Handle       string    `json:"handle"`
	Secret       string    `json:"secret"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves the credential for its handle
	Store(cred *Credential) error

	// Retrieve gets the credential for a handle
	Retrieve(handle string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential for a handle
	Delete(handle string) error

	// Exists checks if a credential exists for a handle
	Exists(handle string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager over the system keychain, an
// encrypted file and the environment, in that order of preference
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the credential in the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Handle == "" {
		return errors.New("handle is required")
	}
	if cred.Secret == "" {
		return errors.New("secret is required")
	}

	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(cred); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the credential from the first store that has it
func (m *Manager) Retrieve(handle string) (*Credential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(handle); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, handle)
}

// List returns the credentials known to any store, newest version per handle
func (m *Manager) List() ([]*Credential, error) {
	byHandle := make(map[string]*Credential)
	var order []string

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			existing, ok := byHandle[cred.Handle]
			if !ok {
				order = append(order, cred.Handle)
			}
			if !ok || cred.LastModified.After(existing.LastModified) {
				byHandle[cred.Handle] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(order))
	for _, handle := range order {
		result = append(result, byHandle[handle])
	}
	return result, nil
}

// Delete removes the credential from every store
func (m *Manager) Delete(handle string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(handle); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, handle)
	}
	return nil
}

// Resolve fills in missing identity secrets from the stores. Identities that
// already carry a secret are left alone. It returns the handles still without one.
func (m *Manager) Resolve(identities []config.IdentityConfig) []string {
	var missing []string
	for i := range identities {
		if identities[i].Secret != "" {
			continue
		}
		cred, err := m.Retrieve(identities[i].Handle)
		if err != nil {
			missing = append(missing, identities[i].Handle)
			continue
		}
		identities[i].Secret = cred.Secret
	}
	return missing
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
		configDir = filepath.Join(home, "Library", "Application Support", "xscraper")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "xscraper")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "xscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "xscraper")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Mask hides all but the edges of a secret for display
func Mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", 8)
	}
	return s[:2] + "..." + s[len(s)-2:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
