package http

import (
	nethttp "net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// SessionJar is a cookie jar that can be emptied. The NAS session lives in
// its cookie, so logging out or switching NAS drops every stored cookie.
type SessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

// NewSessionJar returns an empty jar using the public suffix list.
func NewSessionJar() *SessionJar {
	return &SessionJar{jar: newCookieJar()}
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New never returns a non-nil error
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// SetCookies implements http.CookieJar.
func (j *SessionJar) SetCookies(u *url.URL, cookies []*nethttp.Cookie) {
	j.mu.RLock()
	jar := j.jar
	j.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *SessionJar) Cookies(u *url.URL) []*nethttp.Cookie {
	j.mu.RLock()
	jar := j.jar
	j.mu.RUnlock()
	return jar.Cookies(u)
}

// Reset drops all cookies.
func (j *SessionJar) Reset() {
	j.mu.Lock()
	j.jar = newCookieJar()
	j.mu.Unlock()
}

// HasCookies reports whether any cookie is stored for u.
func (j *SessionJar) HasCookies(u *url.URL) bool {
	return len(j.Cookies(u)) > 0
}
