// Package credentials provides secure credential storage for meetnotes.
// It stores the language model API key and the calendar access token in
// ~/.meetnotes/credentials.yaml with encryption for sensitive data at rest.
//
// The AES-256 key comes from MEETNOTES_ENCRYPTION_KEY (hex or base64),
// from MEETNOTES_PASSPHRASE stretched with Argon2id, or from the system
// keyring, in that order. See ResolveKeyProvider.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsDir  = ".meetnotes"
	DefaultCredentialsFile = "credentials.yaml"
)

// Environment variables that take precedence over stored credentials, in
// lookup order.
var (
	LLMKeyEnvVars        = []string{"MEETNOTES_LLM_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY"}
	CalendarTokenEnvVars = []string{"MEETNOTES_CALENDAR_TOKEN"}
)

var (
	ErrNoCredentials    = errors.New("no credentials stored")
	ErrExpiredToken     = errors.New("stored calendar token has expired")
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored secrets.
type Credentials struct {
	// LLMAPIKey authenticates transcription and generation (encrypted at rest).
	LLMAPIKey string `yaml:"llm_api_key,omitempty"`
	// CalendarToken is the calendar OAuth access token (encrypted at rest).
	CalendarToken string `yaml:"calendar_token,omitempty"`
	// CalendarTokenExpiresAt is the token expiration time, when known.
	CalendarTokenExpiresAt time.Time `yaml:"calendar_token_expires_at,omitempty"`
	// LastUpdated is stamped by Save.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store reads and writes one credentials file. Secret fields are sealed
// with AES-256-GCM under the key from its KeyProvider.
type Store struct {
	dir      string
	aead     cipher.AEAD
	provider KeyProvider
}

// NewStore opens the store in CredentialsDir with the key provider picked by
// ResolveKeyProvider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("resolving credentials directory: %w", err)
	}
	provider, err := ResolveKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("selecting key provider: %w", err)
	}
	return NewStoreAt(dir, provider)
}

// NewStoreAt opens a store rooted at dir.
func NewStoreAt(dir string, provider KeyProvider) (*Store, error) {
	key, err := provider.Key()
	if err != nil {
		return nil, fmt.Errorf("loading encryption key: %w", err)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, aead: aead, provider: provider}, nil
}

// KeyDescription describes where the encryption key lives.
func (s *Store) KeyDescription() string {
	return s.provider.Description()
}

// CredentialsDir is $MEETNOTES_CONFIG_DIR, or ~/.meetnotes.
func CredentialsDir() (string, error) {
	if dir := os.Getenv("MEETNOTES_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath is the credentials file inside CredentialsDir.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

// secrets lists the encrypted fields of c with a label for error messages.
func secrets(c *Credentials) map[string]*string {
	return map[string]*string{
		"API key":        &c.LLMAPIKey,
		"calendar token": &c.CalendarToken,
	}
}

// Save seals the secret fields and replaces the credentials file. The new
// content is written to a temp file in the same directory and renamed over
// the old one.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	sealed := *creds
	sealed.LastUpdated = time.Now()
	for label, field := range secrets(&sealed) {
		if *field == "" {
			continue
		}
		enc, err := s.seal(*field)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", label, err)
		}
		*field = enc
	}

	data, err := yaml.Marshal(&sealed)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return writeFileAtomic(s.dir, s.path(), data)
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	err = tmp.Chmod(0o600)
	if err == nil {
		_, err = tmp.Write(data)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads the credentials file and opens its sealed fields.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := new(Credentials)
	if err := yaml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	for label, field := range secrets(creds) {
		if *field == "" {
			continue
		}
		plain, err := s.open(*field)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", label, err)
		}
		*field = plain
	}
	return creds, nil
}

// Update loads the stored credentials, applies fn and saves the result.
// A missing file starts from empty credentials.
func (s *Store) Update(fn func(*Credentials)) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds = &Credentials{}
	} else if err != nil {
		return err
	}
	fn(creds)
	return s.Save(creds)
}

// Delete removes the credentials file. A missing file is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	return nil
}

// Exists reports whether a credentials file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// seal returns base64(nonce || ciphertext).
func (s *Store) seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plain), nil)), nil
}

func (s *Store) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: sealed value truncated", ErrEncryptionFailed)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return aead, nil
}

// Source names where a resolved secret came from.
type Source string

const (
	SourceNone   Source = "none"
	SourceEnv    Source = "env"
	SourceStored Source = "stored"
)

// ResolveLLMKey returns the LLM API key from the environment, falling back
// to stored credentials. A missing key is not an error: callers degrade.
func (s *Store) ResolveLLMKey() (string, Source, error) {
	return s.resolve(LLMKeyEnvVars, func(c *Credentials) (string, error) {
		return c.LLMAPIKey, nil
	})
}

// ResolveCalendarToken returns the calendar token from the environment,
// falling back to stored credentials. An expired stored token returns
// ErrExpiredToken.
func (s *Store) ResolveCalendarToken() (string, Source, error) {
	return s.resolve(CalendarTokenEnvVars, func(c *Credentials) (string, error) {
		if c.CalendarToken != "" && !c.CalendarTokenExpiresAt.IsZero() && time.Now().After(c.CalendarTokenExpiresAt) {
			return "", ErrExpiredToken
		}
		return c.CalendarToken, nil
	})
}

// resolve checks envVars in order, then the stored credentials. A nil Store
// only consults the environment.
func (s *Store) resolve(envVars []string, stored func(*Credentials) (string, error)) (string, Source, error) {
	if v, ok := firstEnv(envVars); ok {
		return v, SourceEnv, nil
	}
	if s == nil {
		return "", SourceNone, nil
	}
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return "", SourceNone, nil
	}
	if err != nil {
		return "", SourceNone, err
	}
	v, err := stored(creds)
	if err != nil || v == "" {
		return "", SourceNone, err
	}
	return v, SourceStored, nil
}

func firstEnv(names []string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}
