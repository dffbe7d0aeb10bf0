package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nasdesk/nasdesk/internal/config"
	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/http"
	"github.com/nasdesk/nasdesk/internal/logging"
	"github.com/nasdesk/nasdesk/internal/models"
)

// Client talks to one NAS at a time over the FileStation web API.
// The session lives in the client's cookie jar; callers never see it.
type Client struct {
	httpClient     *nethttp.Client // JSON calls, retries server-busy responses
	transferClient *nethttp.Client // streaming upload/download, no overall timeout
	jar            *http.SessionJar
	logger         *logging.Logger
}

// NewClient creates a client with proxy and TLS settings from cfg.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger = logging.OrNop(logger)
	jar := http.NewSessionJar()

	base, err := http.ConfigureHTTPClient(cfg, jar, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	transfer, err := http.CreateTransferClient(cfg, jar, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure transfer client: %w", err)
	}

	return &Client{
		httpClient:     http.NewRetryingClient(base, http.DefaultRetryPolicy(cfg.MaxRetries), logger),
		transferClient: transfer,
		jar:            jar,
		logger:         logger,
	}, nil
}

// ResetCookies forgets the session cookie.
func (c *Client) ResetCookies() {
	c.jar.Reset()
}

// HasSessionCookie reports whether a cookie is held for ep.
func (c *Client) HasSessionCookie(ep *models.Endpoint) bool {
	u, err := url.Parse(ep.BaseURL)
	if err != nil {
		return false
	}
	return c.jar.HasCookies(u)
}

// envelope is the JSON wrapper every FileStation call returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (e *envelope) code() int {
	if e.Error == nil {
		return 0
	}
	return e.Error.Code
}

func (e *envelope) decodeData(op string, out interface{}) error {
	if out == nil {
		return nil
	}
	if len(e.Data) == 0 {
		return &ProtocolError{Op: op, Detail: "response has no data"}
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return &ProtocolError{Op: op, Detail: "malformed data", Err: err}
	}
	return nil
}

// transportError wraps an HTTP client error. Cancellation is passed through.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && http.ClassifyError(err) == http.ErrorTypeCancelled {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return &NetworkError{Op: op, Err: err}
}

// call performs one JSON request and returns the decoded envelope.
// Login is sent as a form POST so the password never appears in a URL.
func (c *Client) call(ctx context.Context, op, method, target string, params url.Values) (*envelope, error) {
	var req *nethttp.Request
	var err error
	if method == nethttp.MethodPost {
		req, err = nethttp.NewRequestWithContext(ctx, method, target, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = nethttp.NewRequestWithContext(ctx, method, target+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, &ProtocolError{Op: op, Detail: "invalid request URL", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("op", op).Err(err).Msg("API call failed")
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("API call")

	if resp.StatusCode != nethttp.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, constants.ErrorPeekSize))
		if http.IsServerBusy(resp.StatusCode) {
			return nil, &NetworkError{Op: op, Err: fmt.Errorf("server busy: HTTP %d", resp.StatusCode)}
		}
		return nil, &ProtocolError{Op: op, Detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if http.ClassifyError(err) == http.ErrorTypeNetwork {
			return nil, transportError(ctx, op, err)
		}
		return nil, &ProtocolError{Op: op, Detail: "response is not JSON", Err: err}
	}
	return &env, nil
}

func baseParams(api string, version int, method string) url.Values {
	return url.Values{
		"api":     {api},
		"version": {strconv.Itoa(version)},
		"method":  {method},
	}
}

// ProbeCapabilities queries SYNO.API.Info for the paths and versions of the
// APIs this client uses. baseURL is scheme://host:port without a path.
func (c *Client) ProbeCapabilities(ctx context.Context, baseURL string) (*models.Endpoint, error) {
	const op = "probe capabilities"
	baseURL = strings.TrimRight(baseURL, "/")

	params := baseParams(constants.APIInfo, 1, "query")
	params.Set("query", strings.Join([]string{
		constants.APIAuth,
		constants.APIList,
		constants.APIUpload,
		constants.APIDownload,
	}, ","))

	env, err := c.call(ctx, op, nethttp.MethodGet, baseURL+"/webapi/"+constants.InfoPath, params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &ProtocolError{Op: op, Detail: fmt.Sprintf("discovery refused (error code %d)", env.code())}
	}

	apis := make(map[string]models.APIInfo)
	if err := env.decodeData(op, &apis); err != nil {
		return nil, err
	}
	if _, ok := apis[constants.APIAuth]; !ok {
		return nil, &ProtocolError{Op: op, Detail: "NAS does not offer " + constants.APIAuth}
	}

	c.logger.Debug().Str("url", baseURL).Int("apis", len(apis)).Msg("Discovered NAS APIs")
	return models.NewEndpoint(baseURL, apis), nil
}

// LoginRequest carries what SYNO.API.Auth login needs.
type LoginRequest struct {
	Username string
	Password string
	// OTPCode is the current 2FA code, if any
	OTPCode string
	// DeviceID is a device token from an earlier 2FA login
	DeviceID string
}

// AuthResult is a successful login.
type AuthResult struct {
	SID string
	// DeviceID is set when the NAS issued a device token for this 2FA login
	DeviceID string
}

// Login authenticates with a cookie-format session. Known error codes map to
// AuthError reasons; anything else is AuthUnknown with the raw code.
func (c *Client) Login(ctx context.Context, ep *models.Endpoint, req LoginRequest) (*AuthResult, error) {
	const op = "login"

	params := baseParams(constants.APIAuth, ep.Version(constants.APIAuth, constants.AuthVersion), "login")
	params.Set("account", req.Username)
	params.Set("passwd", req.Password)
	params.Set("session", constants.SessionName)
	params.Set("format", "cookie")
	if req.OTPCode != "" {
		params.Set("otp_code", req.OTPCode)
		params.Set("enable_device_token", "yes")
	}
	if req.DeviceID != "" {
		params.Set("device_id", req.DeviceID)
	}

	env, err := c.call(ctx, op, nethttp.MethodPost, ep.URL(constants.APIAuth), params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		code := env.code()
		return nil, &AuthError{Reason: AuthReasonFromCode(code), Code: code}
	}

	var data struct {
		SID string `json:"sid"`
		DID string `json:"did"`
	}
	if len(env.Data) > 0 {
		if err := env.decodeData(op, &data); err != nil {
			return nil, err
		}
	}

	c.logger.Debug().Str("user", req.Username).Bool("device_token", data.DID != "").Msg("Login accepted")
	return &AuthResult{SID: data.SID, DeviceID: data.DID}, nil
}

// Logout ends the session on the NAS and forgets the cookie. It is best-effort:
// failures are logged and never returned.
func (c *Client) Logout(ctx context.Context, ep *models.Endpoint) {
	defer c.ResetCookies()
	if ep == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, constants.LogoutTimeout)
	defer cancel()

	params := baseParams(constants.APIAuth, constants.AuthLogoutVersion, "logout")
	params.Set("session", constants.SessionName)

	env, err := c.call(ctx, "logout", nethttp.MethodGet, ep.URL(constants.APIAuth), params)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Logout request failed, ignoring")
		return
	}
	if !env.Success {
		c.logger.Debug().Int("code", env.code()).Msg("Logout refused, ignoring")
	}
}

type rawEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	IsDir      bool   `json:"isdir"`
	Additional *struct {
		Size *int64 `json:"size"`
		Time *struct {
			MTime int64 `json:"mtime"`
		} `json:"time"`
	} `json:"additional"`
}

func (r rawEntry) toModel(parent string) models.FileEntry {
	e := models.FileEntry{
		Name:  r.Name,
		Path:  r.Path,
		IsDir: r.IsDir,
	}
	if e.Path == "" {
		e.Path = models.JoinRemote(parent, r.Name)
	}
	if r.Additional != nil {
		if r.Additional.Size != nil {
			e.Size = *r.Additional.Size
			e.HasSize = true
		}
		if r.Additional.Time != nil && r.Additional.Time.MTime > 0 {
			e.ModTime = time.Unix(r.Additional.Time.MTime, 0)
		}
	}
	return e
}

// ListShares returns the top-level shared folders visible to the session.
func (c *Client) ListShares(ctx context.Context, ep *models.Endpoint) ([]models.ShareEntry, error) {
	return c.listShares(ctx, ep, 0)
}

// VerifySession issues the cheapest authenticated call there is. A nil
// error means the cookie still grants FileStation access.
func (c *Client) VerifySession(ctx context.Context, ep *models.Endpoint) error {
	_, err := c.listShares(ctx, ep, constants.VerifyListLimit)
	return err
}

func (c *Client) listShares(ctx context.Context, ep *models.Endpoint, limit int) ([]models.ShareEntry, error) {
	const op = "list shares"

	params := baseParams(constants.APIList, ep.Version(constants.APIList, constants.ListVersion), "list_share")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	env, err := c.call(ctx, op, nethttp.MethodGet, ep.URL(constants.APIList), params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, NewOperationError(op, env.code())
	}

	var data struct {
		Shares []rawEntry `json:"shares"`
	}
	if err := env.decodeData(op, &data); err != nil {
		return nil, err
	}

	shares := make([]models.ShareEntry, 0, len(data.Shares))
	for _, s := range data.Shares {
		entry := s.toModel("/")
		entry.IsDir = true
		shares = append(shares, entry)
	}
	return shares, nil
}

// isMetadataRejection reports whether a list failure may be the NAS refusing
// the optional "additional" parameter.
func isMetadataRejection(code int) bool {
	switch code {
	case 101, 120, 400:
		return true
	}
	return false
}

// ListFolder returns the children of folderPath, folders first. Size and
// modification time are requested; if the NAS rejects that parameter the
// listing is retried once without it and entries come back without metadata.
func (c *Client) ListFolder(ctx context.Context, ep *models.Endpoint, folderPath string) ([]models.FileEntry, error) {
	folderPath = models.CleanRemote(folderPath)
	if folderPath == "/" {
		return c.ListShares(ctx, ep)
	}

	entries, err := c.listFolder(ctx, ep, folderPath, true)
	var opErr *OperationError
	if errors.As(err, &opErr) && isMetadataRejection(opErr.Code) {
		c.logger.Debug().
			Str("path", folderPath).
			Int("code", opErr.Code).
			Msg("Listing with metadata rejected, retrying without it")
		entries, err = c.listFolder(ctx, ep, folderPath, false)
	}
	if err != nil {
		return nil, err
	}

	models.SortEntries(entries)
	return entries, nil
}

func (c *Client) listFolder(ctx context.Context, ep *models.Endpoint, folderPath string, withMetadata bool) ([]models.FileEntry, error) {
	const op = "list folder"

	params := baseParams(constants.APIList, ep.Version(constants.APIList, constants.ListVersion), "list")
	params.Set("folder_path", folderPath)
	if withMetadata {
		params.Set("additional", `["size","time"]`)
	}

	env, err := c.call(ctx, op, nethttp.MethodGet, ep.URL(constants.APIList), params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, NewOperationError(op, env.code())
	}

	var data struct {
		Files []rawEntry `json:"files"`
	}
	if err := env.decodeData(op, &data); err != nil {
		return nil, err
	}

	entries := make([]models.FileEntry, 0, len(data.Files))
	for _, f := range data.Files {
		entries = append(entries, f.toModel(folderPath))
	}
	return entries, nil
}
