// Package security keeps the warehouse access token out of configuration files.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"metricdrop/internal/common"
	"metricdrop/pkg/errors"
)

const (
	keyringService = "metricdrop"

	saltSize         = 32
	pbkdf2Iterations = 100000
	keySize          = 32

	credentialSuffix = ".cred"
	masterKeyFile    = ".master"
)

// Credential is a stored secret.
type Credential struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// Store reads and writes credentials. The OS keyring is used when one is available;
// otherwise values are AES-GCM encrypted under a pbkdf2-derived key in dir.
type Store struct {
	dir        string
	useKeyring bool
	masterKey  []byte
}

// DefaultDir is ~/.metricdrop/credentials.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".metricdrop", "credentials")
}

// NewStore creates a store for dir. An empty dir means DefaultDir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir, useKeyring: isKeyringAvailable()}
}

// NewFileStore creates a store that never touches the keyring.
func NewFileStore(dir string) *Store {
	s := NewStore(dir)
	s.useKeyring = false
	return s
}

// UsesKeyring reports whether the OS keyring backs the store.
func (s *Store) UsesKeyring() bool {
	return s.useKeyring
}

// Set stores value under name.
func (s *Store) Set(name, value string) error {
	if err := validName(name); err != nil {
		return err
	}

	if s.useKeyring {
		if err := keyring.Set(keyringService, name, value); err == nil {
			return nil
		}
		// fall through to the encrypted file
	}

	encrypted, err := s.encrypt(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encrypt credential")
	}
	return s.saveFile(&Credential{Name: name, Value: encrypted, Encrypted: true})
}

// Get returns the value stored under name.
func (s *Store) Get(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}

	if s.useKeyring {
		value, err := keyring.Get(keyringService, name)
		if err == nil {
			return value, nil
		}
		if err != keyring.ErrNotFound {
			return "", errors.Wrap(err, errors.ErrCodeCredentialsMissing, "Failed to read credential from keyring").
				WithContext("name", name)
		}
	}

	cred, err := s.loadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return "", missing(name)
		}
		return "", errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to read credential file").
			WithContext("name", name)
	}

	if !cred.Encrypted {
		return cred.Value, nil
	}
	value, err := s.decrypt(cred.Value)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeCredentialsMissing, "Failed to decrypt credential").
			WithContext("name", name).
			WithSuggestions("Run 'metricdrop auth login' to store the token again")
	}
	return value, nil
}

// Delete removes name from the keyring and the file store. Deleting a credential that
// does not exist is an error.
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	deleted := false
	if s.useKeyring {
		if err := keyring.Delete(keyringService, name); err == nil {
			deleted = true
		}
	}

	err := os.Remove(s.credentialPath(name))
	switch {
	case err == nil:
		deleted = true
	case !os.IsNotExist(err):
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to remove credential file")
	}

	if !deleted {
		return missing(name)
	}
	return nil
}

// List returns the names held in the file store.
func (s *Store) List() ([]string, error) {
	files, err := common.ListFiles(s.dir, credentialSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list credentials")
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(filepath.Base(f), credentialSuffix))
	}
	sort.Strings(names)
	return names, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return errors.ValidationError("name", name, "credential names must be plain, non-hidden file names")
	}
	return nil
}

func missing(name string) error {
	return errors.New(errors.ErrCodeCredentialsMissing, fmt.Sprintf("No credential stored for %s", name)).
		WithContext("name", name).
		WithSuggestions(
			"Run 'metricdrop auth login' to store a warehouse token",
			"Or set METRICDROP_WAREHOUSE_TOKEN",
		)
}

// Encryption

func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, encrypted := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	if s.masterKey == nil {
		key, err := s.loadMasterKey()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize master key: %w", err)
		}
		s.masterKey = key
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadMasterKey reads the salt+key file, creating it on first use.
func (s *Store) loadMasterKey() ([]byte, error) {
	path, err := common.ValidatePath(filepath.Join(s.dir, masterKeyFile), s.dir)
	if err != nil {
		return nil, fmt.Errorf("invalid master key path: %w", err)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated
	if err == nil {
		if len(data) != saltSize+keySize {
			return nil, fmt.Errorf("invalid master key file size")
		}
		return data[saltSize:], nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iterations, keySize, sha256.New)

	if err := os.MkdirAll(s.dir, common.DirPermissionSecure); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(salt, key...), common.FilePermissionSecure); err != nil {
		return nil, err
	}
	return key, nil
}

// Files

func (s *Store) credentialPath(name string) string {
	return filepath.Join(s.dir, name+credentialSuffix)
}

func (s *Store) saveFile(cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode credential")
	}

	if err := os.MkdirAll(s.dir, common.DirPermissionSecure); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create credentials directory")
	}

	path, err := common.ValidatePath(s.credentialPath(cred.Name), s.dir)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Invalid credential file path")
	}
	if err := os.WriteFile(path, data, common.FilePermissionSecure); err != nil { // #nosec G304
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to write credential file")
	}
	return nil
}

func (s *Store) loadFile(name string) (*Credential, error) {
	path, err := common.ValidatePath(s.credentialPath(name), s.dir)
	if err != nil {
		return nil, fmt.Errorf("invalid credential file path: %w", err)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated
	if err != nil {
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Platform helpers

func isKeyringAvailable() bool {
	if strings.EqualFold(os.Getenv("METRICDROP_USE_KEYRING"), "false") {
		return false
	}

	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		if os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != "" {
			return true
		}
	}
	return false
}

func machineID() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}

	data := fmt.Sprintf("%s-%s-%s-%s", hostname, user, runtime.GOOS, runtime.GOARCH)
	hash := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(hash[:])
}
