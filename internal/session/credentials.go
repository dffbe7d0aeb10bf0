package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMissingURL      = errors.New("NAS address is required")
	ErrInvalidURL      = errors.New("NAS address is not a valid http(s) URL")
	ErrMissingUsername = errors.New("username is required")
	ErrMissingPassword = errors.New("password is required")
)

// Credentials are what a login needs. DeviceID is filled in after a 2FA
// login that issued a device token and lets later logins skip the code.
type Credentials struct {
	URL      string
	Username string
	Password string
	OTPCode  string
	DeviceID string
}

// Validate checks that every required field is present and the URL parses.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}
	if _, err := NormalizeURL(c.URL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Username) == "" {
		return ErrMissingUsername
	}
	if c.Password == "" {
		return ErrMissingPassword
	}
	return nil
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.URL)
}

// NormalizeURL trims whitespace and trailing slashes and adds http://
// when no scheme is given, so "192.168.1.10:5000/" becomes
// "http://192.168.1.10:5000".
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}

	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), nil
}
