package filesender

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"filesender/fstypes"
)

// WithBaseURL sets the server address. Both the bare host form and the form
// carrying the REST entry point path are accepted and resolve identically.
func WithBaseURL(baseURL string) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.BaseURL = baseURL
	}
}

// WithUserAuth authenticates as an account holder with an API key. Every
// request is signed; the key itself never leaves the process.
func WithUserAuth(username, apiKey string) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.Credential = fstypes.UserCredential{Username: username, APIKey: apiKey}
	}
}

// WithGuestAuth authenticates with a guest voucher token for uploading into
// a transfer the guest was invited to.
func WithGuestAuth(token, email string) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.Credential = fstypes.GuestCredential{Token: token, Email: email}
	}
}

// WithConcurrentFiles bounds how many files transfer at once.
// Default is 2.
func WithConcurrentFiles(n int) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		if n > 0 {
			c.ConcurrentFiles = n
		}
	}
}

// WithConcurrentChunks bounds how many chunk requests are in flight across
// all files. Default is 4.
func WithConcurrentChunks(n int) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		if n > 0 {
			c.ConcurrentChunks = n
		}
	}
}

// WithChunkSize sets the preferred chunk size in bytes. The effective size
// is clamped to the server's advertised maximum. Default is 5MB.
func WithChunkSize(size int64) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithMaxRetries sets the number of retries after a failed attempt on
// transient errors. Default is 3.
func WithMaxRetries(maxRetries int) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.MaxRetries = maxRetries
	}
}

// WithRetryWait sets the exponential backoff bounds between retries.
func WithRetryWait(waitMin, waitMax time.Duration) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// WithSignatureDelay shifts signature timestamps forward so signatures stay
// valid while slow requests are still in flight.
func WithSignatureDelay(delay time.Duration) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.SignatureDelay = delay
	}
}

// WithHTTPClient provides a custom HTTP client. Its redirect policy is
// overridden: redirects surface as errors rather than being followed.
func WithHTTPClient(client *http.Client) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.HTTPClient = client
	}
}

// WithFilesystem sets a custom filesystem implementation for chunk I/O.
// This allows using in-memory filesystems for testing or virtual
// filesystems. If not specified, defaults to the OS filesystem.
func WithFilesystem(filesystem fs.Filesystem) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.Filesystem = filesystem
	}
}

// WithLogger sets a structured logger for transfer, chunk and retry events.
// Default is a no-op logger.
func WithLogger(logger *slog.Logger) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithProgressTracker sets a progress tracker receiving per-file updates as
// chunks complete.
func WithProgressTracker(tracker fstypes.ProgressTracker) fstypes.Option {
	return func(c *fstypes.ClientConfig) {
		c.ProgressTracker = tracker
	}
}
