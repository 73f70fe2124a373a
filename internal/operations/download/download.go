// Package download orchestrates token-based multi-file chunked downloads.
//
// The token is resolved to a file manifest, then each file's chunks are
// fetched in strict offset order and assembled under the output directory.
// Unlike uploads, a failed file does not stop the remaining files: every
// file is attempted and the result reports each outcome.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	fs "github.com/input-output-hk/catalyst-forge-libs/fs"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/chunk"
	"filesender/internal/govern"
	"filesender/internal/pool"
	"filesender/internal/rest"
)

// API is the subset of the transport the downloader drives.
type API interface {
	ResolveDownload(ctx context.Context, token string) (*rest.DownloadManifest, error)
	DownloadChunk(ctx context.Context, token string, fileID int64, span chunk.Span, buf []byte) ([]byte, error)
}

// Request describes one download to perform.
type Request struct {
	// Token is the recipient or voucher download token
	Token string

	// OutputDir is the directory files are placed under
	OutputDir string

	ChunkSize int64
}

// Downloader executes download requests against the server.
type Downloader struct {
	api      API
	fsys     fs.Filesystem
	gov      *govern.Governor
	buffers  *pool.ChunkPool
	log      *slog.Logger
	progress fstypes.ProgressTracker
}

// New creates a Downloader. progress may be nil.
func New(
	restAPI API,
	fsys fs.Filesystem,
	gov *govern.Governor,
	buffers *pool.ChunkPool,
	log *slog.Logger,
	progress fstypes.ProgressTracker,
) *Downloader {
	return &Downloader{
		api:      restAPI,
		fsys:     fsys,
		gov:      gov,
		buffers:  buffers,
		log:      log,
		progress: progress,
	}
}

// Run resolves the token and fetches every file in the manifest. Files fail
// independently; the result carries the per-file breakdown and the error is
// non-nil when any file failed.
func (d *Downloader) Run(ctx context.Context, req *Request, startTime time.Time) (*fstypes.TransferResult, error) {
	manifest, err := d.api.ResolveDownload(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if len(manifest.Files) == 0 {
		return nil, errors.NewError("download",
			fmt.Errorf("%w: token resolved to an empty file list", errors.ErrServerProtocol))
	}

	result := &fstypes.TransferResult{
		State:         fstypes.TransferDownloading,
		Files:         make([]fstypes.FileResult, len(manifest.Files)),
		DownloadToken: req.Token,
	}
	for i, f := range manifest.Files {
		result.Files[i] = fstypes.FileResult{
			ID:    f.ID,
			Name:  f.Name,
			Size:  f.Size,
			State: fstypes.FilePending,
		}
	}

	d.log.Info("download resolved", "files", len(manifest.Files))

	var wg sync.WaitGroup
	for i, f := range manifest.Files {
		if ctx.Err() != nil {
			break
		}
		if err := d.gov.AcquireFile(ctx); err != nil {
			break
		}

		wg.Add(1)
		go func(i int, f rest.DownloadFile) {
			defer wg.Done()
			defer d.gov.ReleaseFile()

			res := &result.Files[i]
			res.State = fstypes.FileActive
			if err := d.downloadFile(ctx, req, f, res); err != nil {
				res.State = fstypes.FileFailed
				res.Err = err
				if d.progress != nil {
					d.progress.Error(f.Name, err)
				}
				d.log.Error("file download failed", "file", f.Name, "error", err)
				return
			}
			res.State = fstypes.FileComplete
			if d.progress != nil {
				d.progress.Complete(f.Name)
			}
		}(i, f)
	}
	wg.Wait()

	result.Duration = time.Since(startTime)
	if failed := result.Failed(); len(failed) > 0 || ctx.Err() != nil {
		result.State = fstypes.TransferFailed
		if ctx.Err() != nil {
			return result, errors.NewError("download", ctx.Err())
		}
		return result, errors.NewError("download",
			fmt.Errorf("%w: %d of %d files failed", errors.ErrPartialTransfer, len(failed), len(result.Files)))
	}
	result.State = fstypes.TransferCompleted
	d.log.Info("download complete", "duration", result.Duration)
	return result, nil
}

// downloadFile fetches one file's chunks in offset order and assembles them
// under the output directory.
func (d *Downloader) downloadFile(ctx context.Context, req *Request, f rest.DownloadFile, res *fstypes.FileResult) error {
	rel, err := placementPath(f.Name)
	if err != nil {
		return err
	}
	target := path.Join(req.OutputDir, rel)
	res.Path = target

	writer, err := chunk.NewWriter(d.fsys, target)
	if err != nil {
		return errors.NewFileError("downloadFile", target, err)
	}
	defer func() { _ = writer.Close() }()

	// A zero-byte file needs no network round trip, only local creation.
	if f.Size == 0 {
		return writer.Close()
	}

	cursor := chunk.NewCursor(f.Size, req.ChunkSize)
	for {
		span, ok := cursor.Next()
		if !ok {
			break
		}

		if err := d.gov.AcquireChunk(ctx); err != nil {
			return err
		}
		err := d.fetchChunk(ctx, req.Token, f.ID, span, writer)
		d.gov.ReleaseChunk()
		if err != nil {
			return err
		}

		res.Transferred = writer.Written()
		if d.progress != nil {
			d.progress.Update(f.Name, res.Transferred, f.Size)
		}
	}

	if err := writer.Close(); err != nil {
		return errors.NewFileError("downloadFile", target, err)
	}
	if writer.Written() != f.Size {
		return errors.NewFileError("downloadFile", target,
			fmt.Errorf("%w: wrote %d bytes, manifest declared %d", errors.ErrSizeMismatch, writer.Written(), f.Size))
	}
	return nil
}

// fetchChunk pulls one span through a pooled buffer and appends it to the
// writer.
func (d *Downloader) fetchChunk(ctx context.Context, token string, fileID int64, span chunk.Span, writer *chunk.Writer) error {
	buf := d.buffers.Get()
	defer d.buffers.Put(buf)

	data, err := d.api.DownloadChunk(ctx, token, fileID, span, buf)
	if err != nil {
		return err
	}
	return writer.WriteSpan(chunk.Span{Offset: span.Offset, Length: int64(len(data))}, data)
}

// placementPath validates a server-supplied file name for local placement.
// Absolute paths and parent traversal are rejected rather than sanitized.
func placementPath(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if cleaned == "" || cleaned == "." || path.IsAbs(cleaned) ||
		cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.NewError("download",
			fmt.Errorf("%w: unsafe file name %q", errors.ErrInvalidInput, name))
	}
	return cleaned, nil
}
