package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/nasdesk/nasdesk/internal/config"
	"github.com/nasdesk/nasdesk/internal/logging"
)

// CreateTransferClient creates an HTTP client for streaming uploads and
// downloads. It shares proxy and TLS behavior with ConfigureHTTPClient but has
// no overall timeout; each transfer is bounded by its context instead.
//
// HTTP/2 is attempted for direct connections and disabled behind a proxy,
// where multiplexed streams tend to stall mid-transfer. DISABLE_HTTP2=true
// forces HTTP/1.1 and FORCE_HTTP2=true keeps HTTP/2 behind a proxy.
func CreateTransferClient(cfg *config.Config, jar nethttp.CookieJar, logger *logging.Logger) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(cfg, jar, logger)
	if err != nil {
		return nil, err
	}
	baseClient.Timeout = 0

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport; leave it as configured
		return baseClient, nil
	}

	// Headers arrive only after the NAS has written a large upload to disk
	tr.ResponseHeaderTimeout = 0
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		disableHTTP2(tr)
	}

	var proxyActive bool
	switch cfg.ProxyMode {
	case config.ProxyModeNone, "":
		proxyActive = false
	case config.ProxyModeSystem:
		proxyActive = os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		proxyActive = cfg.ProxyHost != ""
	}

	if proxyActive && os.Getenv("FORCE_HTTP2") != "true" {
		disableHTTP2(tr)
	}

	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}
