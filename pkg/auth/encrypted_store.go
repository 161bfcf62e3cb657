package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000

	passphraseEnv = "GITSNAP_PASSPHRASE"
)

// EncryptedFileStore keeps tokens in an AES-GCM encrypted JSON file
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

// fileFormat is the on-disk layout
type fileFormat struct {
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Version   int       `json:"version"`
	Modified  time.Time `json:"modified"`
}

// NewEncryptedFileStore creates a store at filePath. When passphrase is empty
// it comes from GITSNAP_PASSPHRASE, or from a generated .passphrase file next
// to the store.
func NewEncryptedFileStore(filePath, passphrase string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	store := &EncryptedFileStore{filepath: filePath, passphrase: passphrase}
	if store.passphrase == "" {
		p, err := resolvePassphrase(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get passphrase: %w", err)
		}
		store.passphrase = p
	}

	return store, nil
}

func (e *EncryptedFileStore) Name() string { return "encrypted file " + e.filepath }

// Get reads the token for host
func (e *EncryptedFileStore) Get(host string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tokens, _, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrTokenNotFound
		}
		return "", err
	}

	token, ok := tokens[host]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Set saves the token for host, keeping the others
func (e *EncryptedFileStore) Set(host, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if host == "" || token == "" {
		return ErrInvalidToken
	}

	tokens, salt, err := e.load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing data: %w", err)
	}
	if tokens == nil {
		tokens = make(map[string]string)
	}
	tokens[host] = token

	return e.save(tokens, salt)
}

// Delete removes the token for host. The file is removed when it becomes empty.
func (e *EncryptedFileStore) Delete(host string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, salt, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrTokenNotFound
		}
		return err
	}
	if _, ok := tokens[host]; !ok {
		return ErrTokenNotFound
	}
	delete(tokens, host)

	if len(tokens) == 0 {
		return os.Remove(e.filepath)
	}
	return e.save(tokens, salt)
}

// load decrypts the file and returns the tokens with the salt in use
func (e *EncryptedFileStore) load() (map[string]string, []byte, error) {
	content, err := os.ReadFile(e.filepath)
	if err != nil {
		return nil, nil, err
	}

	var file fileFormat
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	encrypted, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode encrypted data: %w", err)
	}

	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	decrypted, err := decrypt(encrypted, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt data: %w", err)
	}

	var tokens map[string]string
	if err := json.Unmarshal(decrypted, &tokens); err != nil {
		return nil, nil, fmt.Errorf("failed to parse tokens: %w", err)
	}
	return tokens, salt, nil
}

// save encrypts tokens and writes the file atomically
func (e *EncryptedFileStore) save(tokens map[string]string, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	encrypted, err := encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	content, err := json.MarshalIndent(fileFormat{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(encrypted),
		Version:   1,
		Modified:  time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal file data: %w", err)
	}

	tempFile := e.filepath + ".tmp"
	if err := os.WriteFile(tempFile, content, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tempFile, e.filepath)
}

// resolvePassphrase reads GITSNAP_PASSPHRASE or the .passphrase file in dir,
// generating the file on first use.
func resolvePassphrase(dir string) (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}

	passphraseFile := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(passphraseFile); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)

	if err := os.WriteFile(passphraseFile, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

// encrypt encrypts data using AES-GCM with a random nonce prefix
func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt decrypts data produced by encrypt
func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
