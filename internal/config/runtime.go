package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ProviderRegistration persists one registered remote detection provider.
// ServerCertDER is the pinned certificate, AES-GCM encrypted at rest the
// same way the teacher's internal/config encrypted camera stream
// passwords.
type ProviderRegistration struct {
	Name          string `json:"provider_name"`
	ConnectionIP  string `json:"connection_ip"`
	ServerCertDER string `json:"server_certification"` // base64 DER, AES-GCM sealed
}

// RuntimeConfig is the control-plane state mutated by CloudProviderConfig
// and SuspicionConfig control messages: the provider registry and the
// suspicion threshold/class weights. It is the only mutable global in the
// edge process; all updates are atomic-rename.
type RuntimeConfig struct {
	Threshold    int                `json:"threshold"`
	ClassWeights map[string]float64 `json:"class_weights,omitempty"`
	Providers    []ProviderRegistration `json:"providers,omitempty"`

	mu     sync.RWMutex
	path   string
	encKey []byte
}

// LoadRuntimeConfig reads the persisted JSON config at path, or returns a
// default RuntimeConfig if the file does not yet exist.
func LoadRuntimeConfig(path string, encKey []byte) (*RuntimeConfig, error) {
	rc := &RuntimeConfig{
		Threshold: 75,
		path:      path,
		encKey:    encKey,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return rc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read runtime config: %w", err)
	}

	if err := json.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("config: parse runtime config: %w", err)
	}
	rc.path = path
	rc.encKey = encKey
	return rc, nil
}

// Save persists the runtime config via write-to-temp-then-rename.
func (rc *RuntimeConfig) Save() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.saveLocked()
}

func (rc *RuntimeConfig) saveLocked() error {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal runtime config: %w", err)
	}

	tmpPath := rc.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("config: write runtime config: %w", err)
	}
	return os.Rename(tmpPath, rc.path)
}

// AddProvider persists a new provider registration, replacing any existing
// entry with the same name. The certificate is sealed with the process's
// encryption key before it hits disk.
func (rc *RuntimeConfig) AddProvider(name, connectionIP string, certDER []byte) error {
	sealed, err := encrypt(rc.encKey, string(certDER))
	if err != nil {
		return fmt.Errorf("config: seal provider certificate: %w", err)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	for i := range rc.Providers {
		if rc.Providers[i].Name == name {
			rc.Providers[i] = ProviderRegistration{Name: name, ConnectionIP: connectionIP, ServerCertDER: sealed}
			return rc.saveLocked()
		}
	}
	rc.Providers = append(rc.Providers, ProviderRegistration{Name: name, ConnectionIP: connectionIP, ServerCertDER: sealed})
	return rc.saveLocked()
}

// RemoveProvider drops a provider's persisted registration.
func (rc *RuntimeConfig) RemoveProvider(name string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for i := range rc.Providers {
		if rc.Providers[i].Name == name {
			rc.Providers = append(rc.Providers[:i], rc.Providers[i+1:]...)
			return rc.saveLocked()
		}
	}
	return nil
}

// ProviderCertDER decrypts and returns a persisted provider's certificate.
func (rc *RuntimeConfig) ProviderCertDER(name string) ([]byte, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	for _, p := range rc.Providers {
		if p.Name == name {
			plain, err := decrypt(rc.encKey, p.ServerCertDER)
			if err != nil {
				return nil, false
			}
			return []byte(plain), true
		}
	}
	return nil, false
}

// SetThreshold clamps threshold to [0,100], persists it, and returns the
// clamped value so callers that fan the same threshold out elsewhere (the
// recording controller) apply the value actually persisted, not the raw
// input.
func (rc *RuntimeConfig) SetThreshold(threshold int) (int, error) {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 100 {
		threshold = 100
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Threshold = threshold
	return threshold, rc.saveLocked()
}

// SetClassWeights merges weights (class-id keys, coerced to strings for
// JSON) into the persisted class-weight map.
func (rc *RuntimeConfig) SetClassWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.ClassWeights == nil {
		rc.ClassWeights = make(map[string]float64, len(weights))
	}
	for k, v := range weights {
		rc.ClassWeights[k] = v
	}
	return rc.saveLocked()
}

// Snapshot returns a copy of the current threshold and class weights.
func (rc *RuntimeConfig) Snapshot() (int, map[string]float64) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	weights := make(map[string]float64, len(rc.ClassWeights))
	for k, v := range rc.ClassWeights {
		weights[k] = v
	}
	return rc.Threshold, weights
}

// EncryptionKeyFromEnv returns the AES-256 key from GUARDCAR_ENCRYPTION_KEY
// (base64), or a development fallback if unset.
func EncryptionKeyFromEnv() []byte {
	keyStr := os.Getenv("GUARDCAR_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}
	return []byte("guardcar-dev-key-change-in-prod0")
}

// encrypt seals plaintext with AES-GCM under key.
func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt opens an AES-GCM-sealed string under key.
func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
