// Package wallet loads the signing key and signs swap transactions.
package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"filippo.io/edwards25519"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Wallet errors.
var (
	ErrMissingKey         = errors.New("no signing key configured")
	ErrMalformedKey       = errors.New("malformed secret key")
	ErrPublicKeyMismatch  = errors.New("keypair does not match expected public key")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrMalformedTx        = errors.New("malformed transaction")
	ErrDevKeyNotPermitted = errors.New("secret key from environment requires wallet.allowDevKey")
)

// Keypair is an ed25519 signing key with its base58 address.
type Keypair struct {
	private ed25519.PrivateKey
	address string
}

// NewKeypair builds a keypair from a 64-byte secret key or a 32-byte seed.
func NewKeypair(secret []byte) (*Keypair, error) {
	var priv ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(secret[ed25519.SeedSize:])) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrMalformedKey)
		}
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedKey, len(secret))
	}

	return &Keypair{
		private: priv,
		address: base58.Encode(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// PublicKey returns the base58 address.
func (k *Keypair) PublicKey() string {
	return k.address
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// SignTransaction signs a base64 serialized transaction and writes the signature
// into the first signature slot, which belongs to the fee payer.
func (k *Keypair) SignTransaction(base64Tx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Tx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}

	count, headerLen, err := decodeShortVec(raw)
	if err != nil {
		return "", err
	}
	if count < 1 {
		return "", fmt.Errorf("%w: no signature slots", ErrMalformedTx)
	}
	msgStart := headerLen + count*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", fmt.Errorf("%w: truncated", ErrMalformedTx)
	}

	sig := k.Sign(raw[msgStart:])
	signed := make([]byte, len(raw))
	copy(signed, raw)
	copy(signed[headerLen:headerLen+ed25519.SignatureSize], sig)
	return base64.StdEncoding.EncodeToString(signed), nil
}

// decodeShortVec reads a compact-u16 length prefix.
func decodeShortVec(b []byte) (value, size int, err error) {
	for size < 3 {
		if size >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated length prefix", ErrMalformedTx)
		}
		elem := int(b[size])
		value |= (elem & 0x7f) << (7 * size)
		size++
		if elem&0x80 == 0 {
			return value, size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: length prefix too long", ErrMalformedTx)
}

// ParseSecretKey accepts a JSON byte array or a base58 string.
func ParseSecretKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrMissingKey
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var ints []int
		if err := json.Unmarshal([]byte(trimmed), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrMalformedKey, i)
			}
			out[i] = byte(v)
		}
		return out, nil
	}

	decoded, err := base58.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return decoded, nil
}

// ValidatePublicKey checks that address is base58 and decodes to a point on the curve.
func ValidatePublicKey(address string) error {
	b, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(b))
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return fmt.Errorf("%w: not on curve", ErrInvalidPublicKey)
	}
	return nil
}

// Loader loads the signing key once and caches it.
type Loader struct {
	logger *zap.Logger
	config config.WalletConfig
	getenv func(string) string

	mu      sync.Mutex
	keypair *Keypair
}

// NewLoader creates a new key loader.
func NewLoader(logger *zap.Logger, cfg config.WalletConfig) *Loader {
	return &Loader{
		logger: logger.Named("wallet"),
		config: cfg,
		getenv: os.Getenv,
	}
}

// Load returns the signing keypair, reading it on first use.
func (l *Loader) Load() (*Keypair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keypair != nil {
		return l.keypair, nil
	}

	if want := l.config.ExpectedPublicKey; want != "" {
		if err := ValidatePublicKey(want); err != nil {
			return nil, fmt.Errorf("expected public key: %w", err)
		}
	}

	raw, err := l.readSecret()
	if err != nil {
		return nil, err
	}
	secret, err := ParseSecretKey(raw)
	if err != nil {
		return nil, err
	}
	kp, err := NewKeypair(secret)
	if err != nil {
		return nil, err
	}

	if want := l.config.ExpectedPublicKey; want != "" && kp.PublicKey() != want {
		return nil, fmt.Errorf("%w: got %s", ErrPublicKeyMismatch, kp.PublicKey())
	}

	l.logger.Info("Signing key loaded", zap.String("publicKey", kp.PublicKey()))
	l.keypair = kp
	return kp, nil
}

func (l *Loader) readSecret() (string, error) {
	if name := l.config.SecretKeyEnv; name != "" {
		if v := l.getenv(name); v != "" {
			if !l.config.AllowDevKey {
				return "", ErrDevKeyNotPermitted
			}
			l.logger.Warn("Using secret key from environment; keep this disabled in production",
				zap.String("env", name))
			return v, nil
		}
	}

	if l.config.KeyPath == "" {
		return "", ErrMissingKey
	}
	b, err := os.ReadFile(l.config.KeyPath)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	return string(b), nil
}
