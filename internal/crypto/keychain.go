package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// DayKey is the publishable key for one calendar day. Day uses the
// 2006-01-02 form in UTC.
type DayKey struct {
	Day string
	Key []byte
}

// Module is the cryptography collaborator consumed by the orchestrator.
type Module interface {
	// DerivePublishableKey returns the publishable key for the onset
	// date, or (nil, nil) when no key material exists for that date.
	DerivePublishableKey(onset time.Time) (*DayKey, error)

	// Reset wipes the key material and starts a fresh chain.
	Reset() error
}

const (
	secretKeySize = 32
	// retentionDays bounds how far back a publishable key can be
	// derived; onsets older than the chain start minus nothing are
	// simply unavailable.
	retentionDays = 14

	dayFormat = "2006-01-02"
)

var hkdfInfo = []byte("dp3t-publishable-key")

type chainState struct {
	StartDay  string `json:"start_day"`
	SecretKey []byte `json:"secret_key"`
}

// KeyChain implements Module with a SHA-256 rotated secret chain: the
// key for day n is derived by hashing the previous day's key, and the
// publishable key expands the day secret through HKDF.
type KeyChain struct {
	mu     sync.Mutex
	state  chainState
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewKeyChain loads the chain from path, creating fresh key material if
// none exists. now may be nil and defaults to time.Now.
func NewKeyChain(path string, now func() time.Time, logger *zap.Logger) (*KeyChain, error) {
	if path == "" {
		return nil, fmt.Errorf("key chain path is required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kc := &KeyChain{path: path, now: now, logger: logger.Named("crypto")}

	content, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := kc.generate(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read key chain: %w", err)
	default:
		if err := json.Unmarshal(content, &kc.state); err != nil {
			return nil, fmt.Errorf("failed to decode key chain: %w", err)
		}
		if len(kc.state.SecretKey) != secretKeySize {
			return nil, fmt.Errorf("key chain is corrupt: unexpected key size %d", len(kc.state.SecretKey))
		}
	}

	return kc, nil
}

// DerivePublishableKey rotates the chain forward to the onset day and
// expands the day secret into the publishable key. Onsets before the
// chain start (or older than the retention window) have no key.
func (kc *KeyChain) DerivePublishableKey(onset time.Time) (*DayKey, error) {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	start, err := time.ParseInLocation(dayFormat, kc.state.StartDay, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("key chain is corrupt: bad start day: %w", err)
	}

	onsetDay := onset.UTC().Truncate(24 * time.Hour)
	offset := int(onsetDay.Sub(start).Hours() / 24)
	if offset < 0 {
		// No key material covers this date.
		return nil, nil
	}
	today := kc.now().UTC().Truncate(24 * time.Hour)
	if onsetDay.After(today) {
		return nil, fmt.Errorf("onset date %s is in the future", onsetDay.Format(dayFormat))
	}
	if onsetDay.Before(today.AddDate(0, 0, -retentionDays)) {
		return nil, nil
	}

	daySecret := kc.state.SecretKey
	for i := 0; i < offset; i++ {
		sum := sha256.Sum256(daySecret)
		daySecret = sum[:]
	}

	key := make([]byte, secretKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, daySecret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("failed to expand publishable key: %w", err)
	}

	return &DayKey{Day: onsetDay.Format(dayFormat), Key: key}, nil
}

// Reset wipes the chain and generates fresh key material.
func (kc *KeyChain) Reset() error {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	if err := kc.generate(); err != nil {
		return err
	}
	kc.logger.Info("key chain reset", zap.String("start_day", kc.state.StartDay))
	return nil
}

// generate creates a fresh secret and persists it. Caller must hold the
// lock except during construction.
func (kc *KeyChain) generate() error {
	secret := make([]byte, secretKeySize)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate secret key: %w", err)
	}
	kc.state = chainState{
		StartDay:  kc.now().UTC().Format(dayFormat),
		SecretKey: secret,
	}

	if err := os.MkdirAll(filepath.Dir(kc.path), 0o700); err != nil {
		return fmt.Errorf("failed to create key chain directory: %w", err)
	}
	content, err := json.Marshal(kc.state)
	if err != nil {
		return fmt.Errorf("failed to encode key chain: %w", err)
	}
	if err := os.WriteFile(kc.path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write key chain: %w", err)
	}
	return nil
}
