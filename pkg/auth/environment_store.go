package auth

import (
	"os"
	"strings"
	"time"
	"unicode"
)

// EnvironmentStore reads secrets from XSCRAPER_SECRET_<HANDLE> variables. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// EnvVar returns the variable holding the secret for handle: upper-cased,
// with anything but letters and digits replaced by underscores
func EnvVar(handle string) string {
	var b strings.Builder
	b.WriteString("XSCRAPER_SECRET_")
	for _, r := range strings.TrimPrefix(handle, "@") {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(handle string) (*Credential, error) {
	if handle == "" {
		return nil, ErrInvalidCredentials
	}
	secret := os.Getenv(EnvVar(handle))
	if secret == "" {
		return nil, ErrCredentialsNotFound
	}
	return &Credential{Handle: handle, Secret: secret, LastModified: time.Now()}, nil
}

// List returns nothing: handles cannot be recovered from variable names
func (e *EnvironmentStore) List() ([]*Credential, error) {
	return []*Credential{}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(handle string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(handle string) bool {
	return handle != "" && os.Getenv(EnvVar(handle)) != ""
}
