package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/http"
	"github.com/nasdesk/nasdesk/internal/models"
)

// UploadResult describes a finished upload.
type UploadResult struct {
	Path  string
	Bytes int64
}

// ProgressFunc receives the cumulative number of file bytes sent or received.
type ProgressFunc func(transferred int64)

// countingReader reports cumulative reads to onRead.
type countingReader struct {
	r      io.Reader
	n      int64
	onRead ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.onRead != nil {
			c.onRead(c.n)
		}
	}
	return n, err
}

// multipartFrame renders everything around the file content of an upload
// body, so the file can be streamed between them with an exact length.
func multipartFrame(fields [][2]string, filename string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filename,
	}))
	h.Set("Content-Type", "application/octet-stream")
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}
	mark := buf.Len()

	if err := mw.Close(); err != nil {
		return nil, nil, "", err
	}
	all := buf.Bytes()
	return all[:mark], all[mark:], mw.FormDataContentType(), nil
}

// Upload streams src into remoteDir as filename, overwriting an existing file.
// size is the number of bytes src will yield, or -1 if unknown. onProgress
// may be nil. The body is never buffered, so uploads are not retried here.
func (c *Client) Upload(ctx context.Context, ep *models.Endpoint, remoteDir, filename string, src io.Reader, size int64, onProgress ProgressFunc) (*UploadResult, error) {
	const op = "upload"

	remoteDir = models.CleanRemote(remoteDir)
	if remoteDir == "/" {
		return nil, ErrUploadToRoot
	}
	if strings.TrimSpace(filename) == "" {
		return nil, &UploadError{Code: 1802, Reason: UploadNameMissing}
	}

	version := ep.MaxVersion(constants.APIUpload, constants.UploadDefaultVersion)
	head, tail, contentType, err := multipartFrame([][2]string{
		{"api", constants.APIUpload},
		{"version", strconv.Itoa(version)},
		{"method", "upload"},
		{"path", remoteDir},
		{"create_parents", "false"},
		{"overwrite", "true"},
	}, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload body: %w", err)
	}

	counter := &countingReader{r: src, onRead: onProgress}
	body := io.MultiReader(bytes.NewReader(head), counter, bytes.NewReader(tail))

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, ep.URL(constants.APIUpload), io.NopCloser(body))
	if err != nil {
		return nil, &ProtocolError{Op: op, Detail: "invalid request URL", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if size >= 0 {
		req.ContentLength = int64(len(head)) + size + int64(len(tail))
	}

	c.logger.Debug().Str("dir", remoteDir).Str("file", filename).Int64("size", size).Int("version", version).Msg("Uploading")

	resp, err := c.transferClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, constants.ErrorPeekSize))
		if http.IsServerBusy(resp.StatusCode) {
			return nil, &NetworkError{Op: op, Err: fmt.Errorf("server busy: HTTP %d", resp.StatusCode)}
		}
		return nil, &ProtocolError{Op: op, Detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, constants.ErrorPeekSize)).Decode(&env); err != nil {
		return nil, &ProtocolError{Op: op, Detail: "response is not JSON", Err: err}
	}
	if !env.Success {
		code := env.code()
		return nil, &UploadError{Code: code, Reason: UploadReasonFromCode(code)}
	}

	return &UploadResult{
		Path:  models.JoinRemote(remoteDir, filename),
		Bytes: counter.n,
	}, nil
}

// DownloadStream is the body of a file download. Read it directly or range
// over Chunks; either way Close it.
type DownloadStream struct {
	// Path is the remote file
	Path string
	// ContentLength is the size announced by the NAS, or -1
	ContentLength int64
	ContentType   string

	r    io.Reader
	body io.Closer
	n    int64
}

// Read implements io.Reader. Connection failures are reported as NetworkError.
func (s *DownloadStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && err != io.EOF {
		return n, &NetworkError{Op: "download", Err: err}
	}
	return n, err
}

// BytesRead returns how much of the body has been consumed.
func (s *DownloadStream) BytesRead() int64 {
	return s.n
}

// Close releases the connection.
func (s *DownloadStream) Close() error {
	return s.body.Close()
}

// Chunks yields the body in chunks of at most constants.DownloadChunkSize
// bytes. A chunk is only valid until the next iteration. Iteration stops
// after the first error, which is yielded with a nil chunk.
func (s *DownloadStream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, constants.DownloadChunkSize)
		for {
			n, err := s.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Download opens remotePath for streaming. If the NAS answers with a JSON
// error envelope instead of file content, that error is returned and no
// bytes are handed to the caller.
func (c *Client) Download(ctx context.Context, ep *models.Endpoint, remotePath string) (*DownloadStream, error) {
	const op = "download"
	remotePath = models.CleanRemote(remotePath)

	pathJSON, err := json.Marshal([]string{remotePath})
	if err != nil {
		return nil, fmt.Errorf("failed to encode path: %w", err)
	}
	params := baseParams(constants.APIDownload, ep.Version(constants.APIDownload, constants.DownloadVersion), "download")
	params.Set("path", string(pathJSON))
	params.Set("mode", "download")

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, ep.URL(constants.APIDownload)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &ProtocolError{Op: op, Detail: "invalid request URL", Err: err}
	}

	resp, err := c.transferClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}

	if resp.StatusCode != nethttp.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, constants.ErrorPeekSize))
		resp.Body.Close()
		if http.IsServerBusy(resp.StatusCode) {
			return nil, &NetworkError{Op: op, Err: fmt.Errorf("server busy: HTTP %d", resp.StatusCode)}
		}
		return nil, &ProtocolError{Op: op, Detail: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	stream := &DownloadStream{
		Path:          remotePath,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		r:             resp.Body,
		body:          resp.Body,
	}

	if !isJSONContentType(stream.ContentType) {
		return stream, nil
	}

	// A JSON file is legitimate content; only a failure envelope is an error
	peek, err := io.ReadAll(io.LimitReader(resp.Body, constants.ErrorPeekSize+1))
	if err != nil {
		resp.Body.Close()
		return nil, transportError(ctx, op, err)
	}
	if len(peek) <= constants.ErrorPeekSize {
		var env envelope
		if json.Unmarshal(peek, &env) == nil && !env.Success && env.Error != nil {
			resp.Body.Close()
			c.logger.Debug().Str("path", remotePath).Int("code", env.code()).Msg("Download refused")
			return nil, NewOperationError(op, env.code())
		}
	}

	stream.r = io.MultiReader(bytes.NewReader(peek), resp.Body)
	return stream, nil
}

func isJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
