package cli

import (
	"fmt"
	"strings"

	"github.com/nasdesk/nasdesk/internal/config"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/logging"
	"github.com/nasdesk/nasdesk/internal/session"
)

// PasswordEnvVar supplies the password for scripted use.
const PasswordEnvVar = "NASDESK_PASSWORD"

// credentialSource gathers login details in priority order: flags, the
// selected profile, config and environment, and finally a prompt.
type credentialSource struct {
	URL      string // --url
	Username string // --user
	OTPCode  string // --otp
	Profile  string // --profile; empty means the last selected profile

	Store  *config.ProfileStore // may be nil
	Config *config.Config       // NAS defaults, already merged with NASDESK_URL/NASDESK_USER
	Getenv func(string) string
	Prompt prompter // nil disables prompting
	Logger *logging.Logger
}

// resolved is the outcome of credential resolution.
type resolved struct {
	Credentials session.Credentials
	Profile     string // profile the details came from, if any
}

func (s credentialSource) resolve() (resolved, error) {
	log := logging.OrNop(s.Logger)
	var out resolved

	var sel *config.Selection
	name := s.Profile
	if name == "" && s.Store != nil {
		name = s.Store.LastSelected()
		if _, ok := s.Store.Get(name); !ok {
			name = ""
		}
	}
	if name != "" {
		if s.Store == nil {
			return out, fmt.Errorf("%w: %s", config.ErrProfileNotFound, name)
		}
		selection, err := s.Store.Select(name)
		if err != nil {
			return out, err
		}
		sel = &selection
		out.Profile = name
	}

	creds := session.Credentials{
		URL:      s.URL,
		Username: s.Username,
		OTPCode:  s.OTPCode,
	}

	if creds.URL == "" && sel != nil {
		creds.URL = sel.URL
	}
	if creds.URL == "" && s.Config != nil {
		creds.URL = s.Config.NASURL
	}
	if creds.Username == "" && sel != nil {
		creds.Username = sel.Username
	}
	if creds.Username == "" && s.Config != nil {
		creds.Username = s.Config.Username
	}

	// A stored password belongs to the profile's own account
	if sel != nil && sel.Remembered() && !s.Store.Remember() {
		log.Debugf("Ignoring saved password for profile %q, remember_password is off", sel.Name)
	} else if sel != nil && strings.EqualFold(creds.Username, sel.Username) {
		switch sel.Secret.State {
		case encryption.SecretRecovered:
			creds.Password = sel.Secret.Value
		case encryption.SecretUnrecoverable:
			log.Warnf("Saved password for profile %q cannot be read on this machine, asking again", sel.Name)
		}
	}
	if creds.Password == "" && s.Getenv != nil {
		creds.Password = s.Getenv(PasswordEnvVar)
	}

	if err := s.promptMissing(&creds); err != nil {
		return out, err
	}
	out.Credentials = creds
	return out, creds.Validate()
}

func (s credentialSource) promptMissing(creds *session.Credentials) error {
	if s.Prompt == nil {
		return nil
	}
	var err error
	if strings.TrimSpace(creds.URL) == "" {
		if creds.URL, err = s.Prompt.Line("NAS address"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(creds.Username) == "" {
		if creds.Username, err = s.Prompt.Line("Username"); err != nil {
			return err
		}
	}
	if creds.Password == "" {
		if creds.Password, err = s.Prompt.Password(fmt.Sprintf("Password for %s", creds.Username)); err != nil {
			return err
		}
	}
	return nil
}
