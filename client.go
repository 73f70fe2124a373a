package filesender

import (
	"context"
	"log/slog"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/fs"
	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/auth"
	"filesender/internal/govern"
	"filesender/internal/pool"
	"filesender/internal/rest"
)

// Defaults applied by New when the corresponding option is not given.
const (
	// DefaultChunkSize is the chunk size used when the server does not
	// advertise a smaller one
	DefaultChunkSize = 5 * 1024 * 1024

	// DefaultConcurrentFiles bounds files transferring at once
	DefaultConcurrentFiles = 2

	// DefaultConcurrentChunks bounds chunk requests in flight across all files
	DefaultConcurrentChunks = 4
)

// Client is a FileSender client bound to one server and one credential.
// It is safe for concurrent use; the concurrency bounds apply across all
// transfers started from the same Client.
type Client struct {
	cfg     fstypes.ClientConfig
	rest    *rest.Client
	gov     *govern.Governor
	buffers *pool.ChunkPool
	fsys    fs.Filesystem
	log     *slog.Logger

	// mu guards info, fetched lazily and cached
	mu   sync.Mutex
	info *fstypes.ServerInfo
}

// New creates a client for the server named by WithBaseURL. Without a
// credential option the client is anonymous and can only download by token
// and query server info.
//
// Example:
//
//	client, err := filesender.New(
//	    filesender.WithBaseURL("https://filesender.example.org"),
//	    filesender.WithUserAuth("alice", apiKey),
//	)
func New(opts ...fstypes.Option) (*Client, error) {
	cfg := fstypes.ClientConfig{
		ConcurrentFiles:  DefaultConcurrentFiles,
		ConcurrentChunks: DefaultConcurrentChunks,
		ChunkSize:        DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Credential == nil {
		cfg.Credential = fstypes.AnonymousCredential{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = billy.NewOSFS("/")
	}

	signer, err := auth.NewSigner(cfg.Credential, cfg.SignatureDelay, nil)
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}

	restClient, err := rest.New(rest.Config{
		BaseURL:      cfg.BaseURL,
		Signer:       signer,
		HTTPClient:   cfg.HTTPClient,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}

	gov, err := govern.New(cfg.ConcurrentFiles, cfg.ConcurrentChunks)
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}

	return &Client{
		cfg:     cfg,
		rest:    restClient,
		gov:     gov,
		buffers: pool.NewChunkPool(cfg.ChunkSize),
		fsys:    cfg.Filesystem,
		log:     cfg.Logger,
	}, nil
}

// ServerInfo fetches the server's advertised limits.
func (c *Client) ServerInfo(ctx context.Context) (*fstypes.ServerInfo, error) {
	return c.rest.GetServerInfo(ctx)
}

// BaseURL returns the normalized endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.rest.BaseURL()
}

// effectiveChunkSize clamps the configured chunk size to the server's
// advertised maximum. Server info is fetched once and cached; when it is
// unavailable the configured size is used and the lookup retried on the
// next transfer.
func (c *Client) effectiveChunkSize(ctx context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info == nil {
		info, err := c.rest.GetServerInfo(ctx)
		if err != nil {
			c.log.Warn("server info unavailable, using configured chunk size",
				"chunk_size", c.cfg.ChunkSize, "error", err)
			return c.cfg.ChunkSize
		}
		c.info = info
	}

	size := c.cfg.ChunkSize
	if c.info.UploadChunkSize > 0 && size > c.info.UploadChunkSize {
		c.log.Debug("chunk size clamped to server limit",
			"configured", size, "limit", c.info.UploadChunkSize)
		size = c.info.UploadChunkSize
	}
	return size
}

// senderIdentity resolves the From address for transfers and vouchers:
// an explicit override wins, otherwise the credential's own identity.
func (c *Client) senderIdentity(override string) string {
	if override != "" {
		return override
	}
	switch cred := c.cfg.Credential.(type) {
	case fstypes.UserCredential:
		return cred.Username
	case fstypes.GuestCredential:
		return cred.Email
	default:
		return ""
	}
}
