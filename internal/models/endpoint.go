package models

import (
	"github.com/nasdesk/nasdesk/internal/constants"
)

// APIInfo is what discovery reports for one API family.
type APIInfo struct {
	Path       string `json:"path"`
	MinVersion int    `json:"minVersion"`
	MaxVersion int    `json:"maxVersion"`
}

// Endpoint is a NAS base URL plus the API paths and versions discovered for it.
// It is populated once per login and not mutated afterwards.
type Endpoint struct {
	BaseURL string
	APIs    map[string]APIInfo
}

// NewEndpoint copies apis so the result stays immutable.
func NewEndpoint(baseURL string, apis map[string]APIInfo) *Endpoint {
	copied := make(map[string]APIInfo, len(apis))
	for k, v := range apis {
		copied[k] = v
	}
	return &Endpoint{BaseURL: baseURL, APIs: copied}
}

// Path returns the CGI path for api relative to /webapi/, defaulting to entry.cgi.
func (e *Endpoint) Path(api string) string {
	if info, ok := e.APIs[api]; ok && info.Path != "" {
		return info.Path
	}
	return constants.DefaultAPIPath
}

// MaxVersion returns the discovered max version for api, or fallback when unknown.
func (e *Endpoint) MaxVersion(api string, fallback int) int {
	if info, ok := e.APIs[api]; ok && info.MaxVersion > 0 {
		return info.MaxVersion
	}
	return fallback
}

// Version returns min(preferred, discovered max), or preferred when unknown.
func (e *Endpoint) Version(api string, preferred int) int {
	if m := e.MaxVersion(api, preferred); m < preferred {
		return m
	}
	return preferred
}

// URL returns the absolute URL for api.
func (e *Endpoint) URL(api string) string {
	return e.BaseURL + "/webapi/" + e.Path(api)
}
