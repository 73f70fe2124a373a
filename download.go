package filesender

import (
	"context"
	"fmt"
	"time"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/operations/download"
)

// Download fetches every file a download token resolves to and places them
// under outputDir. Files fail independently; the result reports each file's
// outcome and the error is non-nil when any failed.
func (c *Client) Download(ctx context.Context, token, outputDir string) (*fstypes.TransferResult, error) {
	start := time.Now()

	if token == "" {
		return nil, errors.NewError("download",
			fmt.Errorf("%w: empty download token", errors.ErrInvalidInput))
	}
	if outputDir == "" {
		outputDir = "."
	}

	req := &download.Request{
		Token:     token,
		OutputDir: outputDir,
		ChunkSize: c.cfg.ChunkSize,
	}

	downloader := download.New(c.rest, c.fsys, c.gov, c.buffers, c.log, c.cfg.ProgressTracker)
	return downloader.Run(ctx, req, start)
}
