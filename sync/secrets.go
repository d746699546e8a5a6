// ABOUTME: Secret storage abstraction for credentials and tokens
// ABOUTME: File-backed implementation at XDG data path with 0600 permissions
package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// SecretStore is the capability the sync core depends on for credential
// persistence. Implementations must tolerate concurrent reads.
type SecretStore interface {
	// Get returns the stored value, or ("", nil) when the key is absent.
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// FileSecretStore stores each secret as a 0600 file under a private
// directory. It is the default store; swap in a keychain-backed
// implementation without touching the sync core.
type FileSecretStore struct {
	Dir string
}

// NewFileSecretStore returns a store rooted at the XDG data directory.
func NewFileSecretStore() *FileSecretStore {
	return &FileSecretStore{Dir: filepath.Join(xdg.DataHome, "cdrsync")}
}

func (s *FileSecretStore) path(key string) string {
	return filepath.Join(s.Dir, key)
}

func (s *FileSecretStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret %s: %w", key, err)
	}
	return string(data), nil
}

func (s *FileSecretStore) Set(key, value string) error {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.WriteFile(s.path(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", key, err)
	}
	return nil
}

func (s *FileSecretStore) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret %s: %w", key, err)
	}
	return nil
}
