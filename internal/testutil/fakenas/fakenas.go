// Package fakenas is an in-process FileStation server for tests.
//
// It implements discovery, cookie sessions, list_share/list, upload and
// download against an in-memory tree, counts every call, and lets a test
// script error codes for upcoming calls.
package fakenas

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Default credentials accepted by New.
const (
	DefaultUser     = "alice"
	DefaultPassword = "hunter2"
	cookieName      = "id"
)

// Upload records the last multipart upload received.
type Upload struct {
	Fields        map[string]string
	Filename      string
	ContentType   string
	ContentLength int64
	Size          int
}

// Server is a fake NAS. It is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	user     string
	password string
	otp      string
	deviceID string

	sessions map[string]bool
	nextSID  int
	dirs     map[string]bool
	files    map[string][]byte
	calls    map[string]int
	failures map[string][]int
	busy     int

	rejectMetadata  bool
	denyFileStation bool
	lastUpload      *Upload
	lastLogin       map[string]string
	versions        map[string]int
}

// New starts a server with user alice/hunter2, a share /photos holding
// /photos/a.jpg, and an empty share /docs.
func New() *Server {
	s := &Server{
		user:     DefaultUser,
		password: DefaultPassword,
		sessions: make(map[string]bool),
		dirs:     map[string]bool{"/": true},
		files:    make(map[string][]byte),
		calls:    make(map[string]int),
		failures: make(map[string][]int),
		versions: map[string]int{
			"SYNO.API.Auth":             7,
			"SYNO.FileStation.List":     2,
			"SYNO.FileStation.Upload":   3,
			"SYNO.FileStation.Download": 2,
		},
	}
	s.AddFolder("/photos")
	s.AddFolder("/docs")
	s.AddFile("/photos/a.jpg", []byte("not really a jpeg"))
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetCredentials changes the accepted account.
func (s *Server) SetCredentials(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user, s.password = user, password
}

// RequireOTP makes login demand code and issue deviceID as a device token.
func (s *Server) RequireOTP(code, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otp, s.deviceID = code, deviceID
}

// RejectMetadata makes list answer 400 whenever "additional" is requested.
func (s *Server) RejectMetadata(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectMetadata = reject
}

// DenyFileStation makes every list_share fail with 105 even for valid sessions.
func (s *Server) DenyFileStation(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyFileStation = deny
}

// SetMaxVersion changes what discovery reports for api.
func (s *Server) SetMaxVersion(api string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[api] = version
}

// AddFolder creates a folder and its parents.
func (s *Server) AddFolder(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p = path.Clean(p); p != "/"; p = path.Dir(p) {
		s.dirs[p] = true
	}
}

// AddFile stores data at p, creating parent folders.
func (s *Server) AddFile(p string, data []byte) {
	p = path.Clean(p)
	s.AddFolder(path.Dir(p))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = append([]byte(nil), data...)
}

// File returns the content stored at p.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean(p)]
	return data, ok
}

// ExpireSessions invalidates every issued cookie, as a NAS restart would.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]bool)
}

// ActiveSessions returns the number of valid sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// FailNext queues error codes returned by the next calls of method
// ("query", "login", "logout", "list_share", "list", "upload", "download").
func (s *Server) FailNext(method string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], codes...)
}

// BusyNext makes the next n requests answer HTTP 503.
func (s *Server) BusyNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = n
}

// Calls returns how often method was called.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// LastUpload returns the most recent upload, or nil.
func (s *Server) LastUpload() *Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpload
}

// LastLogin returns the form of the most recent login.
func (s *Server) LastLogin() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lastLogin))
	for k, v := range s.lastLogin {
		out[k] = v
	}
	return out
}

func (s *Server) popFailure(method string) (int, bool) {
	queue := s.failures[method]
	if len(queue) == 0 {
		return 0, false
	}
	s.failures[method] = queue[1:]
	return queue[0], true
}

func (s *Server) authenticated(r *http.Request) bool {
	c, err := r.Cookie(cookieName)
	return err == nil && s.sessions[c.Value]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	body := map[string]interface{}{"success": true}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, body)
}

func writeError(w http.ResponseWriter, code int) {
	writeJSON(w, map[string]interface{}{
		"success": false,
		"error":   map[string]interface{}{"code": code},
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	method := r.FormValue("method")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[method]++

	if s.busy > 0 {
		s.busy--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if code, ok := s.popFailure(method); ok {
		writeError(w, code)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/query.cgi"):
		s.handleInfo(w)
	case r.FormValue("api") == "SYNO.API.Auth" && method == "login":
		s.handleLogin(w, r)
	case r.FormValue("api") == "SYNO.API.Auth" && method == "logout":
		if c, err := r.Cookie(cookieName); err == nil {
			delete(s.sessions, c.Value)
		}
		writeOK(w, nil)
	case !s.authenticated(r):
		writeError(w, 119)
	case method == "list_share":
		s.handleListShare(w, r)
	case method == "list":
		s.handleList(w, r)
	case method == "upload":
		s.handleUpload(w, r)
	case method == "download":
		s.handleDownload(w, r)
	default:
		writeError(w, 103)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter) {
	data := make(map[string]interface{})
	for api, v := range s.versions {
		p := "entry.cgi"
		if api == "SYNO.API.Auth" {
			p = "auth.cgi"
		}
		data[api] = map[string]interface{}{"path": p, "minVersion": 1, "maxVersion": v}
	}
	writeOK(w, data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.lastLogin = make(map[string]string)
	for k := range r.Form {
		s.lastLogin[k] = r.FormValue(k)
	}

	if r.FormValue("account") != s.user || r.FormValue("passwd") != s.password {
		writeError(w, 400)
		return
	}

	did := ""
	if s.otp != "" && r.FormValue("device_id") != s.deviceID {
		switch r.FormValue("otp_code") {
		case "":
			writeError(w, 403)
			return
		case s.otp:
			if r.FormValue("enable_device_token") == "yes" {
				did = s.deviceID
			}
		default:
			writeError(w, 404)
			return
		}
	}

	s.nextSID++
	sid := fmt.Sprintf("sid-%d", s.nextSID)
	s.sessions[sid] = true
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: sid, Path: "/"})

	data := map[string]interface{}{"sid": sid}
	if did != "" {
		data["did"] = did
	}
	writeOK(w, data)
}

func (s *Server) children(dir string) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != dir && path.Dir(p) == dir && !seen[p] {
			seen[p] = true
			names = append(names, p)
		}
	}
	for d := range s.dirs {
		add(d)
	}
	for f := range s.files {
		add(f)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleListShare(w http.ResponseWriter, r *http.Request) {
	if s.denyFileStation {
		writeError(w, 105)
		return
	}

	var shares []map[string]interface{}
	for _, p := range s.children("/") {
		shares = append(shares, map[string]interface{}{"name": path.Base(p), "path": p, "isdir": true})
	}
	if limit, err := strconv.Atoi(r.FormValue("limit")); err == nil && limit > 0 && limit < len(shares) {
		shares = shares[:limit]
	}
	writeOK(w, map[string]interface{}{"shares": shares, "total": len(shares), "offset": 0})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	additional := r.FormValue("additional")
	if s.rejectMetadata && additional != "" {
		writeError(w, 400)
		return
	}

	dir := path.Clean(r.FormValue("folder_path"))
	if !s.dirs[dir] || dir == "/" {
		writeError(w, 408)
		return
	}

	var files []map[string]interface{}
	for _, p := range s.children(dir) {
		entry := map[string]interface{}{"name": path.Base(p), "path": p, "isdir": s.dirs[p]}
		if additional != "" {
			entry["additional"] = map[string]interface{}{
				"size": len(s.files[p]),
				"time": map[string]interface{}{"mtime": 1700000000},
			}
		}
		files = append(files, entry)
	}
	writeOK(w, map[string]interface{}{"files": files, "total": len(files), "offset": 0})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.MultipartForm == nil {
		writeError(w, 101)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, 1802)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, 1800)
		return
	}

	fields := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	s.lastUpload = &Upload{
		Fields:        fields,
		Filename:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Size:          len(data),
	}

	dir := path.Clean(fields["path"])
	if !s.dirs[dir] {
		writeError(w, 408)
		return
	}
	s.files[path.Join(dir, header.Filename)] = data
	writeOK(w, nil)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var paths []string
	if err := json.Unmarshal([]byte(r.FormValue("path")), &paths); err != nil || len(paths) != 1 {
		writeError(w, 101)
		return
	}
	data, ok := s.files[path.Clean(paths[0])]
	if !ok {
		writeError(w, 408)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
