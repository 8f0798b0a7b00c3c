package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "crmnotify"

	// AccessTokenKey is the keyring entry holding the backend access token.
	AccessTokenKey = "access-token"

	// EnvAccessToken overrides the keyring when set.
	EnvAccessToken = "CRMNOTIFY_ACCESS_TOKEN"
)

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Vault reads and writes credentials in a keyring.
type Vault struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// Open returns a Vault backed by the system keyring.
func Open() (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/crmnotify/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("crmnotify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewVault(ring), nil
}

// NewVault wraps an already opened keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring, getenv: os.Getenv}
}

// AccessToken returns the backend access token, preferring the
// environment over the keyring.
func (v *Vault) AccessToken() (string, error) {
	if tok := strings.TrimSpace(v.getenv(EnvAccessToken)); tok != "" {
		return tok, nil
	}
	return v.Get(AccessTokenKey)
}

// SetAccessToken stores the backend access token in the keyring.
func (v *Vault) SetAccessToken(token string) error {
	return v.Set(AccessTokenKey, strings.TrimSpace(token))
}

// Get retrieves a credential value by key.
func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (v *Vault) Set(key string, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (v *Vault) Delete(key string) error {
	if err := v.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
