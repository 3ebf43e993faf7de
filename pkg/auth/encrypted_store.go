package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"xscraper/pkg/storage"
)

const (
	vaultVersion    = 2
	saltSize        = 32
	keySize         = 32
	kdfIterations   = 100000
	passphraseEnv   = "XSCRAPER_PASSPHRASE"
	passphraseFile  = ".passphrase"
	generatedKeyLen = 32
)

// vault is the on-disk layout. Byte slices are base64 encoded by encoding/json.
type vault struct {
	Version  int       `json:"version"`
	Salt     []byte    `json:"salt"`
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps secrets in one AES-GCM sealed file. The key is
// derived with PBKDF2 from XSCRAPER_PASSPHRASE, or from a random passphrase
// generated once and kept in the config directory.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

// NewEncryptedFileStore creates a store backed by path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Handle == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		creds[cred.Handle] = *cred
		return nil
	})
}

func (e *EncryptedFileStore) Retrieve(handle string) (*Credential, error) {
	if handle == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	creds, _, err := e.read()
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	cred, ok := creds[handle]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns every stored credential, sorted by handle
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.RLock()
	creds, _, err := e.read()
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// Delete removes a credential. The file goes with the last one.
func (e *EncryptedFileStore) Delete(handle string) error {
	if handle == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		if _, ok := creds[handle]; !ok {
			return ErrCredentialsNotFound
		}
		delete(creds, handle)
		return nil
	})
}

func (e *EncryptedFileStore) Exists(handle string) bool {
	_, err := e.Retrieve(handle)
	return err == nil
}

// update reads, mutates and rewrites the vault under the write lock
func (e *EncryptedFileStore) update(mutate func(map[string]Credential) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, salt, err := e.read()
	if err != nil {
		return err
	}
	if err := mutate(creds); err != nil {
		return err
	}

	if len(creds) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return e.write(creds, salt)
}

// read opens the vault. A missing file is an empty store with no salt yet.
func (e *EncryptedFileStore) read() (map[string]Credential, []byte, error) {
	creds := make(map[string]Credential)

	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return creds, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if v.Version > vaultVersion {
		return nil, nil, fmt.Errorf("credential file version %d is newer than supported %d", v.Version, vaultVersion)
	}

	aead, err := e.aead(v.Salt)
	if err != nil {
		return nil, nil, err
	}
	n := aead.NonceSize()
	if len(v.Sealed) < n {
		return nil, nil, errors.New("credential file is truncated")
	}
	plain, err := aead.Open(nil, v.Sealed[:n], v.Sealed[n:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt credential file (wrong %s?): %w", passphraseEnv, err)
	}

	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds, v.Salt, nil
}

// write seals creds, keeping an existing salt so the key stays stable
func (e *EncryptedFileStore) write(creds map[string]Credential, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	aead, err := e.aead(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := json.MarshalIndent(vault{
		Version:  vaultVersion,
		Salt:     salt,
		Sealed:   aead.Seal(nonce, nonce, plain, nil),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}
	return storage.WriteFileAtomic(e.path, content, 0600)
}

func (e *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase prefers XSCRAPER_PASSPHRASE and otherwise creates, once, a
// random passphrase file in the config directory
func loadPassphrase() (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}

	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(configDir, passphraseFile)

	if content, err := os.ReadFile(path); err == nil {
		if pass := strings.TrimSpace(string(content)); pass != "" {
			return pass, nil
		}
	}

	raw := make([]byte, generatedKeyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := hex.EncodeToString(raw)
	if err := storage.WriteFileAtomic(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
