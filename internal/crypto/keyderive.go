// Package encryption provides the machine-bound credential vault for nasdesk.
// This file derives the vault key from the local user and install location.
package encryption

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/fernet/fernet-go"
)

// fallbackKeyMaterial keeps the vault usable when the machine cannot be fingerprinted.
// Anything encrypted under it is only obfuscated, not bound to this machine.
const fallbackKeyMaterial = "default_nas_app_key"

var errNoIdentity = errors.New("unable to determine current user")

// MachineFingerprint returns "<user>:<install dir>" for the running binary.
//
// The install directory is the directory of the resolved executable, so moving
// the install or running as another user yields a different fingerprint and
// previously stored passwords stop decrypting.
func MachineFingerprint() (string, error) {
	identity, err := currentIdentity()
	if err != nil {
		return "", err
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	return identity + ":" + filepath.Dir(exe), nil
}

func currentIdentity() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, env := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	return "", errNoIdentity
}

// DeriveKey hashes key material into a Fernet key (SHA-256, 32 bytes).
func DeriveKey(material string) *fernet.Key {
	sum := sha256.Sum256([]byte(material))
	k := fernet.Key(sum)
	return &k
}

// FallbackKey returns the fixed key used when fingerprinting fails.
func FallbackKey() *fernet.Key {
	return DeriveKey(fallbackKeyMaterial)
}
