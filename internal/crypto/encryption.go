package encryption

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// noExpiry disables Fernet timestamp checks; stored passwords do not age out.
const noExpiry time.Duration = -1

var (
	ErrEmptyPlaintext = errors.New("nothing to encrypt")
	ErrMalformedToken = errors.New("stored password is not valid base64")
	ErrDecryptFailed  = errors.New("stored password does not decrypt with this machine's key")
)

// SecretState says why a decrypted secret does or does not carry a value.
type SecretState int

const (
	// SecretNotSet means nothing was stored.
	SecretNotSet SecretState = iota
	// SecretRecovered means the plaintext was recovered.
	SecretRecovered
	// SecretUnrecoverable means something was stored but it cannot be read with this key.
	SecretUnrecoverable
)

func (s SecretState) String() string {
	switch s {
	case SecretNotSet:
		return "not set"
	case SecretRecovered:
		return "recovered"
	case SecretUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Secret is the outcome of Vault.Decrypt. Value is empty unless State is SecretRecovered.
type Secret struct {
	Value string
	State SecretState
	Err   error
}

// Ok reports whether a plaintext was recovered.
func (s Secret) Ok() bool { return s.State == SecretRecovered }

// Vault encrypts and decrypts stored passwords with a machine-bound Fernet key.
// It is safe for concurrent use.
type Vault struct {
	key      *fernet.Key
	fallback bool
}

// NewVault derives the key from MachineFingerprint, falling back to the fixed key
// when the machine cannot be fingerprinted.
func NewVault() *Vault {
	fp, err := MachineFingerprint()
	if err != nil {
		return &Vault{key: FallbackKey(), fallback: true}
	}
	return NewVaultWithFingerprint(fp)
}

// NewVaultWithFingerprint builds a vault for an explicit fingerprint.
func NewVaultWithFingerprint(fingerprint string) *Vault {
	if fingerprint == "" {
		return &Vault{key: FallbackKey(), fallback: true}
	}
	return &Vault{key: DeriveKey(fingerprint)}
}

// UsesFallbackKey reports whether the vault could not bind to this machine.
func (v *Vault) UsesFallbackKey() bool {
	return v.fallback
}

// Encrypt returns the URL-safe base64 encoding of a Fernet token for plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), v.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}
	return base64.URLEncoding.EncodeToString(tok), nil
}

// Decrypt never fails loudly: an empty ciphertext yields SecretNotSet and any
// decoding or authentication failure yields SecretUnrecoverable.
func (v *Vault) Decrypt(ciphertext string) Secret {
	if ciphertext == "" {
		return Secret{State: SecretNotSet}
	}

	tok, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return Secret{State: SecretUnrecoverable, Err: fmt.Errorf("%w: %v", ErrMalformedToken, err)}
	}

	msg := fernet.VerifyAndDecrypt(tok, noExpiry, []*fernet.Key{v.key})
	if msg == nil {
		return Secret{State: SecretUnrecoverable, Err: ErrDecryptFailed}
	}
	return Secret{Value: string(msg), State: SecretRecovered}
}
