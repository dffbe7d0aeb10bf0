package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/logging"
)

// Profile store layout:
//
//	[SETTINGS]
//	last_profile = home
//	remember_password = True
//
//	[PROFILE_home]
//	nas_url = http://1.2.3.4:5000
//	username = alice
//	password = <vault ciphertext or empty>
const (
	settingsSection = "SETTINGS"
	profilePrefix   = "PROFILE_"
)

var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrInvalidProfileName = errors.New("profile name must be non-empty and must not contain brackets or line breaks")
	ErrMissingProfileURL  = errors.New("profile NAS URL is required")
)

// Cipher is the part of the credential vault the store needs.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) encryption.Secret
}

// Profile is a named connection. Password holds vault ciphertext and is empty
// when the password is not remembered.
type Profile struct {
	Name     string
	URL      string
	Username string
	Password string
}

// Remembered reports whether a password was stored for this profile.
func (p Profile) Remembered() bool {
	return p.Password != ""
}

// Selection is a profile with its stored password opened.
type Selection struct {
	Profile
	Secret encryption.Secret
}

// ProfileStore persists named connection profiles in an INI file.
// It is safe for concurrent use.
type ProfileStore struct {
	path   string
	vault  Cipher
	logger *logging.Logger

	mu           sync.Mutex
	profiles     map[string]Profile
	lastSelected string
	remember     bool
	skipped      []string
}

// NewProfileStore creates a store backed by path. Call Load to read it.
func NewProfileStore(path string, vault Cipher, logger *logging.Logger) *ProfileStore {
	return &ProfileStore{
		path:     path,
		vault:    vault,
		logger:   logging.OrNop(logger),
		profiles: make(map[string]Profile),
	}
}

// Path returns the backing file.
func (s *ProfileStore) Path() string {
	return s.path
}

// Load reads the backing file, replacing in-memory state.
// A missing file yields no profiles. Sections that are not PROFILE_ or
// SETTINGS, and profile sections without a name or URL, are skipped and
// reported by Skipped.
func (s *ProfileStore) Load() (map[string]Profile, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Loose:                   true,
		SkipUnrecognizableLines: true,
	}, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	profiles := make(map[string]Profile)
	var skipped []string

	for _, sec := range f.Sections() {
		name := sec.Name()
		switch {
		case name == ini.DefaultSection || name == settingsSection:
			continue
		case !strings.HasPrefix(name, profilePrefix):
			skipped = append(skipped, name)
			continue
		}

		p := Profile{
			Name:     strings.TrimPrefix(name, profilePrefix),
			URL:      strings.TrimSpace(sec.Key("nas_url").String()),
			Username: sec.Key("username").String(),
			Password: sec.Key("password").String(),
		}
		if validateProfileName(p.Name) != nil || p.URL == "" {
			skipped = append(skipped, name)
			continue
		}
		profiles[p.Name] = p
	}

	settings := f.Section(settingsSection)
	s.mu.Lock()
	s.profiles = profiles
	s.lastSelected = settings.Key("last_profile").String()
	s.remember = settings.Key("remember_password").MustBool(false)
	s.skipped = skipped
	s.mu.Unlock()

	for _, name := range skipped {
		s.logger.Warnf("Skipping unreadable profile section [%s]", name)
	}

	return copyProfiles(profiles), nil
}

// Skipped lists the section names ignored by the last Load.
func (s *ProfileStore) Skipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skipped...)
}

// Save replaces every profile and setting and rewrites the file in one pass.
func (s *ProfileStore) Save(profiles map[string]Profile, lastSelected string, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = copyProfiles(profiles)
	s.lastSelected = lastSelected
	s.remember = remember
	return s.flushLocked()
}

func (s *ProfileStore) flushLocked() error {
	f := ini.Empty()

	settings, err := f.NewSection(settingsSection)
	if err != nil {
		return fmt.Errorf("failed to create settings section: %w", err)
	}
	settings.Key("last_profile").SetValue(s.lastSelected)
	settings.Key("remember_password").SetValue(pyBool(s.remember))

	for _, name := range sortedNames(s.profiles) {
		p := s.profiles[name]
		sec, err := f.NewSection(profilePrefix + name)
		if err != nil {
			return fmt.Errorf("failed to create section for profile %q: %w", name, err)
		}
		sec.Key("nas_url").SetValue(p.URL)
		sec.Key("username").SetValue(p.Username)
		sec.Key("password").SetValue(p.Password)
	}

	return saveINIAtomic(f, s.path)
}

// Upsert creates or overwrites a profile and persists the store.
// The password is encrypted only when remember is set and it is non-empty;
// otherwise the stored password is cleared. Storing a password turns the
// remember-password setting on; only SetRemember turns it off. An encryption
// failure stores no password rather than failing the save.
func (s *ProfileStore) Upsert(name, url, username, password string, remember bool) error {
	if err := validateProfileName(name); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrMissingProfileURL
	}

	stored := ""
	if remember && password != "" {
		ct, err := s.vault.Encrypt(password)
		if err != nil {
			s.logger.Warnf("Could not encrypt password for profile %q, saving without it: %v", name, err)
		} else {
			stored = ct
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[name] = Profile{
		Name:     name,
		URL:      url,
		Username: username,
		Password: stored,
	}
	if stored != "" {
		s.remember = true
	}
	return s.flushLocked()
}

// Delete removes a profile and persists the store.
func (s *ProfileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	delete(s.profiles, name)
	if s.lastSelected == name {
		s.lastSelected = ""
	}
	return s.flushLocked()
}

// Clear forgets every profile and removes the backing file.
func (s *ProfileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = make(map[string]Profile)
	s.lastSelected = ""
	s.remember = false
	s.skipped = nil

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove profile store: %w", err)
	}
	return nil
}

// Get returns a profile without opening its password.
func (s *ProfileStore) Get(name string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[name]
	return p, ok
}

// Select opens a profile's password and marks it as the last selected profile
// in memory. Call SetLastSelected to persist the choice.
func (s *ProfileStore) Select(name string) (Selection, error) {
	s.mu.Lock()
	p, ok := s.profiles[name]
	if ok {
		s.lastSelected = name
	}
	s.mu.Unlock()

	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	secret := s.vault.Decrypt(p.Password)
	if secret.State == encryption.SecretUnrecoverable {
		s.logger.Warnf("Saved password for profile %q could not be decrypted on this machine", name)
	}
	return Selection{Profile: p, Secret: secret}, nil
}

// Names returns profile names in sorted order.
func (s *ProfileStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNames(s.profiles)
}

// Profiles returns a copy of all profiles.
func (s *ProfileStore) Profiles() map[string]Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProfiles(s.profiles)
}

// LastSelected returns the last selected profile name, possibly empty.
func (s *ProfileStore) LastSelected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSelected
}

// SetLastSelected records name as last selected and persists the store.
func (s *ProfileStore) SetLastSelected(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok && name != "" {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	s.lastSelected = name
	return s.flushLocked()
}

// Remember returns the remember-password setting. Stored passwords are only
// used for logging in while it is on.
func (s *ProfileStore) Remember() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remember
}

// SetRemember updates the remember-password setting and persists the store.
func (s *ProfileStore) SetRemember(remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remember = remember
	return s.flushLocked()
}

func validateProfileName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "[]\r\n") {
		return ErrInvalidProfileName
	}
	return nil
}

func copyProfiles(in map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedNames(m map[string]Profile) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pyBool writes booleans the way the store has always spelled them.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
