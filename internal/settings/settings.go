package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ibero-data/licensor/internal/database"
)

// Setting keys
const (
	KeySecretKey          = "secret_key"
	KeyPayPalClientID     = "paypal_client_id"
	KeyPayPalClientSecret = "paypal_client_secret"
	KeyPayPalEnvironment  = "paypal_environment"
)

// Sensitive keys are encrypted at rest once a master key is set
var sensitiveKeys = map[string]bool{
	KeyPayPalClientSecret: true,
}

const upsertSQL = `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

// Service manages application settings stored in the database
type Service struct {
	db        *database.DB
	cache     map[string]string
	cacheMu   sync.RWMutex
	masterKey []byte
}

// New creates a new settings service
func New(db *database.DB) *Service {
	return &Service{
		db:    db,
		cache: make(map[string]string),
	}
}

// SetMasterKey sets the encryption key for sensitive settings
func (s *Service) SetMasterKey(key string) {
	hash := sha256.Sum256([]byte(key))
	s.masterKey = hash[:]
	s.ClearCache()
}

// Get retrieves a setting value, "" when unset
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.cacheMu.RLock()
	if val, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return val, nil
	}
	s.cacheMu.RUnlock()

	var value string
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}

	if sensitiveKeys[key] && value != "" {
		decrypted, err := s.decrypt(value)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt %s: %w", key, err)
		}
		value = decrypted
	}

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return value, nil
}

// GetWithDefault retrieves a setting value with a default fallback
func (s *Service) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// Set stores a setting value
func (s *Service) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany stores multiple settings in one transaction
func (s *Service) SetMany(ctx context.Context, values map[string]string) error {
	now := time.Now().UnixMilli()
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			stored := value
			if sensitiveKeys[key] && value != "" {
				encrypted, err := s.encrypt(value)
				if err != nil {
					return err
				}
				stored = encrypted
			}
			if _, err := tx.ExecContext(ctx, s.db.Rebind(upsertSQL), key, stored, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	for key, value := range values {
		s.cache[key] = value
	}
	s.cacheMu.Unlock()
	return nil
}

// GetAllMasked returns all settings with sensitive values masked
func (s *Service) GetAllMasked(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if (sensitiveKeys[key] || key == KeySecretKey) && value != "" {
			value = maskValue(value)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// EnsureSecretKey returns configured when set. Otherwise the stored secret is
// returned, generating and persisting one on first use.
func (s *Service) EnsureSecretKey(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	existing, err := s.Get(ctx, KeySecretKey)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	secret, err := GenerateSecretKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, KeySecretKey, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// ClearCache clears the settings cache
func (s *Service) ClearCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string]string)
	s.cacheMu.Unlock()
}

// GenerateSecretKey generates a new random secret key
func GenerateSecretKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// encrypt encrypts a value using AES-GCM
func (s *Service) encrypt(plaintext string) (string, error) {
	if s.masterKey == nil {
		return plaintext, nil
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return "enc:" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt reverses encrypt. Values without the enc: prefix were stored
// before a master key existed and are returned as-is.
func (s *Service) decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return ciphertext, nil
	}
	if s.masterKey == nil {
		return "", errors.New("master key not set")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, "enc:"))
	if err != nil {
		return "", err
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Service) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// maskValue masks a sensitive value for display
func maskValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
