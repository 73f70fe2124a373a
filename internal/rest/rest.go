// Package rest issues signed HTTP requests against the FileSender REST API
// with retry and exponential backoff.
//
// Transient failures (connection errors, timeouts, 5xx) are retried up to a
// bounded attempt count; rate limiting (429) is retried honoring the
// server's Retry-After; every other 4xx and any protocol anomaly — most
// notably a redirect where a JSON body was expected — is fatal and surfaced
// distinctly. Each attempt is signed afresh so timestamps and digests are
// never reused.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/auth"
	"filesender/internal/chunk"
)

// serviceSuffix is the fixed path of the REST entry point. Base URLs are
// accepted with or without it; the bare form is deprecated but working.
const serviceSuffix = "/rest.php"

// downloadSuffix is the fixed path of the raw download entry point.
const downloadSuffix = "/download.php"

// Defaults applied by New when the corresponding Config field is zero.
const (
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 3

	// DefaultRetryWaitMin is the first backoff interval
	DefaultRetryWaitMin = 500 * time.Millisecond

	// DefaultRetryWaitMax caps the backoff interval
	DefaultRetryWaitMax = 15 * time.Second
)

// Config holds construction parameters for the transport.
type Config struct {
	// BaseURL is the server address, with or without the /rest.php suffix
	BaseURL string

	// Signer authenticates each attempt
	Signer auth.Signer

	// HTTPClient overrides the transport's HTTP client. Its redirect policy
	// is replaced: redirects must surface, not be followed.
	HTTPClient *http.Client

	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger *slog.Logger
}

// Client issues signed, retried requests against one FileSender server.
// It is safe for concurrent use.
type Client struct {
	base     *url.URL
	download *url.URL
	httpc    *http.Client
	signer   auth.Signer

	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration

	log *slog.Logger
}

// New creates a transport for the given server.
func New(cfg Config) (*Client, error) {
	base, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	dl := *base
	dl.Path = strings.TrimSuffix(base.Path, serviceSuffix) + downloadSuffix

	httpc := &http.Client{}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		httpc = &clone
	}
	httpc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	signer := cfg.Signer
	if signer == nil {
		signer, _ = auth.NewSigner(fstypes.AnonymousCredential{}, 0, nil)
	}

	c := &Client{
		base:       base,
		download:   &dl,
		httpc:      httpc,
		signer:     signer,
		maxRetries: cfg.MaxRetries,
		waitMin:    cfg.RetryWaitMin,
		waitMax:    cfg.RetryWaitMax,
		log:        cfg.Logger,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.waitMin <= 0 {
		c.waitMin = DefaultRetryWaitMin
	}
	if c.waitMax <= 0 {
		c.waitMax = DefaultRetryWaitMax
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// normalizeBaseURL parses the configured base URL and appends the service
// suffix when absent, so both accepted forms resolve to the same endpoint.
func normalizeBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: base URL %q: %v", errors.ErrInvalidInput, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: base URL %q must be http or https", errors.ErrInvalidInput, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q has no host", errors.ErrInvalidInput, raw)
	}
	if !strings.HasSuffix(u.Path, serviceSuffix) {
		u.Path += serviceSuffix
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the normalized effective endpoint.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// GetServerInfo fetches the server's advertised limits.
func (c *Client) GetServerInfo(ctx context.Context) (*fstypes.ServerInfo, error) {
	var info fstypes.ServerInfo
	if err := c.send(ctx, http.MethodGet, "/info", nil, nil, &info); err != nil {
		return nil, errors.NewError("serverInfo", err)
	}
	return &info, nil
}

// CreateTransfer registers a new transfer and its file metadata.
func (c *Client) CreateTransfer(ctx context.Context, body *TransferRequest) (*Transfer, error) {
	var transfer Transfer
	if err := c.send(ctx, http.MethodPost, "/transfer", body, nil, &transfer); err != nil {
		return nil, errors.NewError("createTransfer", err)
	}
	return &transfer, nil
}

// UpdateTransfer mutates a transfer's lifecycle flags (complete, closed).
func (c *Client) UpdateTransfer(ctx context.Context, id int64, body *TransferUpdate) (*Transfer, error) {
	var transfer Transfer
	if err := c.send(ctx, http.MethodPut, "/transfer/"+strconv.FormatInt(id, 10), body, nil, &transfer); err != nil {
		return nil, errors.NewError("updateTransfer", err).WithTransfer(id)
	}
	return &transfer, nil
}

// UpdateFile marks a file record, typically complete after its last chunk.
func (c *Client) UpdateFile(ctx context.Context, id int64, body *FileUpdate) error {
	if err := c.send(ctx, http.MethodPut, "/file/"+strconv.FormatInt(id, 10), body, nil, nil); err != nil {
		return errors.NewError("updateFile", err)
	}
	return nil
}

// UploadChunk sends one byte range of a file. fileSize is the file's total
// size, not the chunk's.
func (c *Client) UploadChunk(ctx context.Context, fileID, offset, fileSize int64, data []byte) error {
	endpoint := fmt.Sprintf("/file/%d/chunk/%d", fileID, offset)
	header := http.Header{
		"X-Filesender-File-Size":    {strconv.FormatInt(fileSize, 10)},
		"X-Filesender-Chunk-Offset": {strconv.FormatInt(offset, 10)},
		"X-Filesender-Chunk-Size":   {strconv.Itoa(len(data))},
	}
	if err := c.send(ctx, http.MethodPut, endpoint, rawBody(data), header, nil); err != nil {
		return errors.NewError("uploadChunk", err)
	}
	return nil
}

// CreateGuest sends a voucher invitation.
func (c *Client) CreateGuest(ctx context.Context, body *GuestRequest) (*fstypes.Guest, error) {
	var guest fstypes.Guest
	if err := c.send(ctx, http.MethodPost, "/guest", body, nil, &guest); err != nil {
		return nil, errors.NewError("createGuest", err)
	}
	return &guest, nil
}

// ResolveDownload resolves a download token to its ordered file list.
func (c *Client) ResolveDownload(ctx context.Context, token string) (*DownloadManifest, error) {
	var manifest DownloadManifest
	if err := c.send(ctx, http.MethodGet, "/download/"+url.PathEscape(token), nil, nil, &manifest); err != nil {
		return nil, errors.NewError("resolveDownload", err)
	}
	return &manifest, nil
}

// DownloadChunk fetches one byte range of a file through the download
// endpoint and fills buf with it. Downloads authenticate by token alone, so
// the request is not signed.
func (c *Client) DownloadChunk(ctx context.Context, token string, fileID int64, span chunk.Span, buf []byte) ([]byte, error) {
	if int64(cap(buf)) < span.Length {
		return nil, errors.NewError("downloadChunk",
			fmt.Errorf("%w: buffer capacity %d below span length %d", errors.ErrInvalidInput, cap(buf), span.Length))
	}
	buf = buf[:span.Length]

	u := *c.download
	query := url.Values{}
	query.Set("token", token)
	query.Set("files_ids", strconv.FormatInt(fileID, 10))
	u.RawQuery = query.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, errors.NewError("downloadChunk", err)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", span.Offset, span.End()-1))

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("chunk download failed, retrying",
				"file_id", fileID, "offset", span.Offset, "attempt", attempt+1, "error", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusPartialContent,
			resp.StatusCode == http.StatusOK && span.Offset == 0:
			_, err = io.ReadFull(resp.Body, buf)
			drain(resp)
			if err != nil {
				lastErr = err
				c.log.Warn("chunk body truncated, retrying",
					"file_id", fileID, "offset", span.Offset, "attempt", attempt+1, "error", err)
				continue
			}
			return buf, nil
		default:
			err := c.classify(resp)
			drain(resp)
			if err == nil {
				// A 2xx that is not an acceptable ranged response means the
				// server ignored the Range header; fetching from the start
				// would corrupt the assembly, so surface it.
				err = fmt.Errorf("%w: status %d where 206 Partial Content was expected",
					errors.ErrServerProtocol, resp.StatusCode)
			}
			if !retryable(err) {
				return nil, errors.NewError("downloadChunk", err)
			}
			lastErr = err
			c.log.Warn("chunk download rejected, retrying",
				"file_id", fileID, "offset", span.Offset, "status", resp.StatusCode, "attempt", attempt+1)
		}
	}
	return nil, errors.NewError("downloadChunk",
		fmt.Errorf("%w: %w", errors.ErrRetriesExhausted, lastErr))
}

// rawBody marks a []byte payload that is sent as-is rather than as JSON.
type rawBody []byte

// send builds, signs and issues one request per attempt, retrying transient
// failures. out, when non-nil, receives the decoded JSON response.
func (c *Client) send(ctx context.Context, method, endpoint string, payload any, header http.Header, out any) error {
	var body []byte
	contentType := ""
	switch p := payload.(type) {
	case nil:
	case rawBody:
		body = []byte(p)
		contentType = "application/octet-stream"
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = encoded
		contentType = "application/json"
	}

	u := *c.base
	u.Path += endpoint

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt, retryAfter(lastErr)); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, vs := range header {
			req.Header[k] = vs
		}

		// Fresh signature per attempt: timestamps and digests are not
		// reusable.
		if err := c.signer.Sign(req, body); err != nil {
			return err
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("request failed, retrying",
				"method", method, "endpoint", endpoint, "attempt", attempt+1, "error", err)
			continue
		}

		err = c.classify(resp)
		if err == nil {
			err = decode(resp, out)
			drain(resp)
			if err == nil {
				return nil
			}
			if !retryable(err) {
				return err
			}
			lastErr = err
			c.log.Warn("response body unreadable, retrying",
				"method", method, "endpoint", endpoint, "attempt", attempt+1, "error", err)
			continue
		}
		drain(resp)
		if !retryable(err) {
			return err
		}
		lastErr = err
		c.log.Warn("request rejected, retrying",
			"method", method, "endpoint", endpoint, "status", resp.StatusCode, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %w", errors.ErrRetriesExhausted, lastErr)
}

// classify maps a response's status to the failure taxonomy. nil means the
// response carries the expected body.
func (c *Client) classify(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// The server answered with a redirect, typically to a login page,
		// where JSON was expected. Surfacing it as a decode failure would
		// hide the real cause.
		return fmt.Errorf("%w: status %d redirecting to %q",
			errors.ErrRedirect, resp.StatusCode, resp.Header.Get("Location"))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s",
			errors.ErrAuthenticationRejected, resp.StatusCode, bodySnippet(resp))
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitError{after: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return &transientError{fmt.Errorf("server error: status %d: %s", resp.StatusCode, bodySnippet(resp))}
	default:
		return fmt.Errorf("request failed: status %d: %s", resp.StatusCode, bodySnippet(resp))
	}
}

// decode unmarshals the response body into out.
func decode(resp *http.Response, out any) error {
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{fmt.Errorf("read response body: %w", err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response body: %v", errors.ErrServerProtocol, err)
	}
	return nil
}

// backoff sleeps before the given retry attempt, honoring a server-suggested
// wait when present, and aborts early when ctx is done.
func (c *Client) backoff(ctx context.Context, attempt int, suggested time.Duration) error {
	wait := c.waitMin << (attempt - 1)
	if wait > c.waitMax || wait <= 0 {
		wait = c.waitMax
	}
	if suggested > 0 {
		wait = suggested
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transientError wraps failures eligible for retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// rateLimitError is a 429 with an optional server-suggested wait.
type rateLimitError struct {
	after time.Duration
}

func (e *rateLimitError) Error() string {
	return errors.ErrRateLimited.Error()
}

func (e *rateLimitError) Unwrap() error { return errors.ErrRateLimited }

// retryable reports whether err may be retried: transient network and server
// failures and rate limiting, never auth, protocol or other client errors.
func retryable(err error) bool {
	var transient *transientError
	if stderrors.As(err, &transient) {
		return true
	}
	if stderrors.Is(err, errors.ErrRateLimited) {
		return true
	}
	// Errors from http.Client.Do (connection resets, timeouts) arrive as
	// *url.Error and are retried; classified fatal errors never do.
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
		return true
	}
	return false
}

// retryAfter extracts a server-suggested wait from the previous attempt's
// rate limit error, if any.
func retryAfter(err error) time.Duration {
	var rl *rateLimitError
	if stderrors.As(err, &rl) {
		return rl.after
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// bodySnippet reads a short prefix of the response body for error messages.
func bodySnippet(resp *http.Response) string {
	const limit = 512
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	return strings.TrimSpace(string(raw))
}

// drain consumes and closes the response body so the connection can be
// reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
