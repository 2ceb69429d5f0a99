// Package vault stores secrets by opaque id.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrNotFound is returned when no secret exists under the requested id.
var ErrNotFound = errors.New("secret not found")

// Service defines the interface for secret storage.
type Service interface {
	Put(id, secret string) error
	Get(id string) (string, error)
	Delete(id string) error
}

const (
	saltSize = 32
	keySize  = chacha20poly1305.KeySize
)

// FileVault keeps all secrets in one sealed file. The file layout is
// salt || nonce || ciphertext, where the cipher is XChaCha20-Poly1305 keyed
// by scrypt(key file contents, salt).
type FileVault struct {
	path    string
	keyFile string
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewFileVault creates a vault at path sealed with the key material in
// keyFile. The key file is created with fresh random bytes if missing.
func NewFileVault(logger zerolog.Logger, path, keyFile string) (*FileVault, error) {
	if _, err := os.Stat(keyFile); errors.Is(err, fs.ErrNotExist) {
		material := make([]byte, keySize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("generating vault key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
			return nil, fmt.Errorf("creating vault key directory: %w", err)
		}
		if err := os.WriteFile(keyFile, material, 0o600); err != nil {
			return nil, fmt.Errorf("writing vault key file: %w", err)
		}
		logger.Info().Str("key_file", keyFile).Msg("created new vault key")
	} else if err != nil {
		return nil, fmt.Errorf("checking vault key file: %w", err)
	}

	return &FileVault{path: path, keyFile: keyFile, logger: logger}, nil
}

func (v *FileVault) deriveKey(salt []byte) ([]byte, error) {
	material, err := os.ReadFile(v.keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading vault key file: %w", err)
	}
	key, err := scrypt.Key(material, salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}
	return key, nil
}

func (v *FileVault) load() (map[string]string, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}
	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("vault file is truncated")
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := data[saltSize+chacha20poly1305.NonceSizeX:]

	key, err := v.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing vault: %w", err)
	}

	secrets := map[string]string{}
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("parsing vault contents: %w", err)
	}
	return secrets, nil
}

func (v *FileVault) save(secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("serializing vault contents: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	key, err := v.deriveKey(salt)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing vault file: %w", err)
	}
	return nil
}

// Put stores or replaces a secret.
func (v *FileVault) Put(id, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.load()
	if err != nil {
		return err
	}
	secrets[id] = secret
	return v.save(secrets)
}

// Get retrieves a secret by id.
func (v *FileVault) Get(id string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.load()
	if err != nil {
		return "", err
	}
	secret, ok := secrets[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return secret, nil
}

// Delete removes a secret by id. Deleting an absent id is not an error.
func (v *FileVault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := secrets[id]; !ok {
		return nil
	}
	delete(secrets, id)
	return v.save(secrets)
}

// Memory is an in-memory vault for tests and embedding.
type Memory struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{secrets: map[string]string{}}
}

// Put stores or replaces a secret.
func (m *Memory) Put(id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[id] = secret
	return nil
}

// Get retrieves a secret by id.
func (m *Memory) Get(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.secrets[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return secret, nil
}

// Delete removes a secret by id.
func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, id)
	return nil
}
