package constants

import (
	"time"
)

// FileStation API identifiers
const (
	// APIInfo is the discovery API queried before anything else
	APIInfo = "SYNO.API.Info"

	// APIAuth handles login/logout
	APIAuth = "SYNO.API.Auth"

	// APIList handles list_share and list
	APIList = "SYNO.FileStation.List"

	// APIUpload handles multipart uploads
	APIUpload = "SYNO.FileStation.Upload"

	// APIDownload streams file content
	APIDownload = "SYNO.FileStation.Download"

	// SessionName is the session name passed on login and logout.
	// Cookies issued under this name only grant FileStation access.
	SessionName = "FileStation"

	// InfoPath is the fixed discovery endpoint, relative to /webapi/
	InfoPath = "query.cgi"

	// DefaultAPIPath is used when discovery does not report a path for an API
	DefaultAPIPath = "entry.cgi"
)

// API versions. The client negotiates min(preferred, discovered max).
const (
	// AuthVersion - version 7 supports format=cookie and device tokens
	AuthVersion = 7

	// AuthLogoutVersion - logout has been stable since version 1
	AuthLogoutVersion = 1

	// ListVersion - list_share/list with additional fields
	ListVersion = 2

	// DownloadVersion - path accepts a JSON array from version 2
	DownloadVersion = 2

	// UploadDefaultVersion - used when discovery does not report a max version
	UploadDefaultVersion = 2
)

// Transfer sizes
const (
	// DownloadChunkSize - size of each chunk yielded from a download stream (8 KB)
	DownloadChunkSize = 8192

	// UploadBufferSize - copy buffer for streaming multipart bodies (256 KB)
	UploadBufferSize = 256 * 1024

	// ErrorPeekSize - how much of a JSON-typed download is buffered to look for an error envelope (64 KB)
	ErrorPeekSize = 64 * 1024

	// ThumbnailMaxSourceBytes - files larger than this are not fetched for thumbnails (64 MB)
	ThumbnailMaxSourceBytes = 64 * 1024 * 1024

	// ThumbnailMaxPixels - pictures whose header claims more pixels than this are not decoded
	ThumbnailMaxPixels = 89_478_485

	// VerifyListLimit - list_share limit used for session verification
	VerifyListLimit = 1
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond file size (5%)
	DiskSpaceBufferPercent = 0.05
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000

	// EventDeliveryTimeout - how long a terminal notification waits on a full subscriber (5 seconds)
	// Progress events are dropped immediately instead.
	EventDeliveryTimeout = 5 * time.Second
)

// UI Updates
const (
	// ProgressUpdateInterval - minimum interval between progress events per job (100ms)
	ProgressUpdateInterval = 100 * time.Millisecond

	// DispatcherIdleInterval - how often an idle shell prompt drains pending events
	DispatcherIdleInterval = 250 * time.Millisecond
)

// Thumbnails
const (
	// ThumbnailSizeSmall - edge length for list/tile/small display modes
	ThumbnailSizeSmall = 48

	// ThumbnailSizeMedium - edge length for medium icons
	ThumbnailSizeMedium = 64

	// ThumbnailSizeLarge - edge length for large icons
	ThumbnailSizeLarge = 96

	// ThumbnailPadding - margin kept around the scaled image inside the canvas
	ThumbnailPadding = 8

	// ThumbnailCacheSize - default maximum number of cached thumbnails
	ThumbnailCacheSize = 512

	// ThumbnailCacheTTL - default lifetime of a cached thumbnail
	ThumbnailCacheTTL = 30 * time.Minute
)

// Retry configuration
const (
	// MaxRetries - retries for server-busy HTTP responses (429/502/503/504).
	// Transport errors are never retried.
	MaxRetries = 2

	// RetryInitialDelay - initial delay before first retry (500ms)
	RetryInitialDelay = 500 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (5s)
	RetryMaxDelay = 5 * time.Second
)

// API and Context Timeouts
const (
	// APIRequestTimeout - default timeout for JSON API calls (30 seconds)
	// Streaming transfers are bounded by their context instead.
	APIRequestTimeout = 30 * time.Second

	// LogoutTimeout - best-effort logout gives up after this (5 seconds)
	LogoutTimeout = 5 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (15 seconds)
	HTTPDialTimeout = 15 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPResponseHeaderTimeout - time to wait for response headers (60 seconds)
	HTTPResponseHeaderTimeout = 60 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (10 seconds)
	ProxyWarmupTimeout = 10 * time.Second
)
