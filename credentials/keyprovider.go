package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// Environment variables consulted by ResolveKeyProvider.
const (
	EnvEncryptionKey = "MEETNOTES_ENCRYPTION_KEY"
	EnvPassphrase    = "MEETNOTES_PASSPHRASE"
)

const (
	keyringService = "meetnotes"
	// keyLength is 256 bits for AES-256.
	keyLength  = 32
	saltLength = 16
	// saltFile holds the Argon2 salt next to the credentials file.
	saltFile = "credentials.salt"
)

// Argon2id parameters for passphrase-derived keys.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
)

// ErrKeyringUnavailable indicates the system keyring is not available.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider supplies the key that seals stored secrets.
type KeyProvider interface {
	// Key returns the 32-byte encryption key.
	Key() ([]byte, error)
	// Description says where the key lives, for `auth status`.
	Description() string
}

// ResolveKeyProvider picks the key source for a credentials directory:
// MEETNOTES_ENCRYPTION_KEY, then MEETNOTES_PASSPHRASE with a salt kept in
// dir, then the system keyring.
func ResolveKeyProvider(dir string) (KeyProvider, error) {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey), nil
	}

	if passphrase := os.Getenv(EnvPassphrase); passphrase != "" {
		salt, err := LoadOrCreateSalt(dir)
		if err != nil {
			return nil, err
		}
		return NewPassphraseKeyProvider(passphrase, salt), nil
	}

	provider := NewKeyringKeyProvider(dir)
	if _, err := provider.Key(); err != nil {
		if errors.Is(err, ErrKeyringUnavailable) {
			return nil, fmt.Errorf("set %s or %s: %w", EnvEncryptionKey, EnvPassphrase, err)
		}
		return nil, err
	}
	return provider, nil
}

// EnvKeyProvider reads the key from an environment variable holding 32
// bytes as hex or standard base64.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a new EnvKeyProvider that reads the key from the given env var.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

// Key decodes the variable's value.
func (p *EnvKeyProvider) Key() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(p.envVar))
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid key in %s: not hex or base64", p.envVar)
		}
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", p.envVar, keyLength, len(key))
	}
	return key, nil
}

// Description returns a description of this key provider.
func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// PassphraseKeyProvider stretches a passphrase with Argon2id. The derived
// key is computed once and cached.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte

	once sync.Once
	key  []byte
	err  error
}

// NewPassphraseKeyProvider creates a provider for passphrase and salt.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

// Key derives the key on first use.
func (p *PassphraseKeyProvider) Key() ([]byte, error) {
	p.once.Do(func() {
		switch {
		case p.passphrase == "":
			p.err = errors.New("passphrase is required")
		case len(p.salt) == 0:
			p.err = errors.New("salt is required")
		default:
			p.key = argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, keyLength)
		}
	})
	return p.key, p.err
}

// Description returns a description of this key provider.
func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// LoadOrCreateSalt returns the passphrase salt stored in dir, creating it on
// first use. A corrupt salt file is an error, never silently replaced, since
// doing so would orphan every stored secret.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		salt, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil || len(salt) == 0 {
			return nil, fmt.Errorf("invalid salt in %s", path)
		}
		return salt, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	salt, err := randomBytes(saltLength)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}

// KeyringKeyProvider keeps a random key in the system keyring (macOS
// Keychain, Windows Credential Manager, Linux Secret Service). Each
// credentials directory gets its own keyring entry.
type KeyringKeyProvider struct {
	account string

	mu  sync.Mutex
	key []byte
}

// NewKeyringKeyProvider creates a provider for the credentials in dir.
func NewKeyringKeyProvider(dir string) *KeyringKeyProvider {
	return &KeyringKeyProvider{account: keyringAccount(dir)}
}

// keyringAccount names the keyring entry for dir. The default directory
// keeps the plain name.
func keyringAccount(dir string) string {
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(dir) == filepath.Join(home, DefaultCredentialsDir) {
		return "encryption-key"
	}
	sum := sha256.Sum256([]byte(filepath.Clean(dir)))
	return "encryption-key-" + hex.EncodeToString(sum[:6])
}

// Key returns the stored key, generating and storing one when the entry is
// missing or unreadable.
func (p *KeyringKeyProvider) Key() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	stored, err := keyring.Get(keyringService, p.account)
	switch {
	case err == nil:
		if key, decErr := hex.DecodeString(stored); decErr == nil && len(key) == keyLength {
			p.key = key
			return key, nil
		}
	case !errors.Is(err, keyring.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key, err := randomBytes(keyLength)
	if err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	if err := keyring.Set(keyringService, p.account, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	p.key = key
	return key, nil
}

// Description returns a description of this key provider.
func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
