// Package upload orchestrates multi-file chunked uploads.
//
// A transfer is registered first, then each file's chunks are pushed in
// strict offset order. File starts and in-flight chunk requests are bounded
// by the shared governor; a failed file stops further files from starting
// while files already in flight run to completion.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	fs "github.com/input-output-hk/catalyst-forge-libs/fs"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/chunk"
	"filesender/internal/govern"
	"filesender/internal/pool"
	"filesender/internal/rest"
)

// API is the subset of the transport the uploader drives.
type API interface {
	CreateTransfer(ctx context.Context, body *rest.TransferRequest) (*rest.Transfer, error)
	UpdateTransfer(ctx context.Context, id int64, body *rest.TransferUpdate) (*rest.Transfer, error)
	UpdateFile(ctx context.Context, id int64, body *rest.FileUpdate) error
	UploadChunk(ctx context.Context, fileID, offset, fileSize int64, data []byte) error
}

// File is one prepared local file in a transfer request.
type File struct {
	// Path is the location of the file in the local filesystem
	Path string

	// Name is the name the file is registered under on the server
	Name string

	// Size in bytes
	Size int64

	// MimeType as detected from the file's content
	MimeType string

	// CID is a client-chosen identifier used to match the server's file
	// records back to local files
	CID string
}

// Request describes one transfer to perform.
type Request struct {
	From      string
	Files     []File
	Options   fstypes.UploadOptions
	ChunkSize int64

	// Closed marks the transfer closed for further uploads once complete
	Closed bool
}

// Uploader executes transfer requests against the server.
type Uploader struct {
	api      API
	fsys     fs.Filesystem
	gov      *govern.Governor
	buffers  *pool.ChunkPool
	log      *slog.Logger
	progress fstypes.ProgressTracker
}

// New creates an Uploader. progress may be nil.
func New(
	restAPI API,
	fsys fs.Filesystem,
	gov *govern.Governor,
	buffers *pool.ChunkPool,
	log *slog.Logger,
	progress fstypes.ProgressTracker,
) *Uploader {
	return &Uploader{
		api:      restAPI,
		fsys:     fsys,
		gov:      gov,
		buffers:  buffers,
		log:      log,
		progress: progress,
	}
}

// Run registers the transfer, uploads every file and marks the transfer
// complete. On failure the returned result still carries the per-file
// breakdown alongside the error.
func (u *Uploader) Run(ctx context.Context, req *Request, startTime time.Time) (*fstypes.TransferResult, error) {
	transfer, err := u.createTransfer(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &fstypes.TransferResult{
		ID:    transfer.ID,
		State: fstypes.TransferUploading,
		Files: make([]fstypes.FileResult, len(req.Files)),
	}
	if len(transfer.Recipients) > 0 {
		result.DownloadToken = transfer.Recipients[0].Token
	}

	remote, err := matchFiles(req.Files, transfer.Files)
	if err != nil {
		result.State = fstypes.TransferFailed
		result.Duration = time.Since(startTime)
		return result, errors.NewError("upload", err).WithTransfer(transfer.ID)
	}

	for i, f := range req.Files {
		result.Files[i] = fstypes.FileResult{
			ID:    remote[i],
			Name:  f.Name,
			Path:  f.Path,
			Size:  f.Size,
			State: fstypes.FilePending,
		}
	}

	u.log.Info("transfer created",
		"transfer_id", transfer.ID, "files", len(req.Files))

	var (
		wg     sync.WaitGroup
		failed atomic.Bool
	)
	for i := range req.Files {
		// A failed sibling stops new files from starting; files not yet
		// started stay pending.
		if failed.Load() || ctx.Err() != nil {
			break
		}
		if err := u.gov.AcquireFile(ctx); err != nil {
			break
		}
		// A sibling may have failed while this iteration waited for a slot.
		if failed.Load() {
			u.gov.ReleaseFile()
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer u.gov.ReleaseFile()

			res := &result.Files[i]
			res.State = fstypes.FileActive
			if err := u.uploadFile(ctx, req.Files[i], res.ID, req.ChunkSize, &res.Transferred); err != nil {
				res.State = fstypes.FileFailed
				res.Err = err
				failed.Store(true)
				if u.progress != nil {
					u.progress.Error(req.Files[i].Name, err)
				}
				u.log.Error("file upload failed",
					"transfer_id", transfer.ID, "file", req.Files[i].Name, "error", err)
				return
			}
			res.State = fstypes.FileComplete
			if u.progress != nil {
				u.progress.Complete(req.Files[i].Name)
			}
		}(i)
	}
	wg.Wait()

	if failed.Load() || ctx.Err() != nil {
		result.State = fstypes.TransferFailed
		result.Duration = time.Since(startTime)
		if ctx.Err() != nil {
			return result, errors.NewError("upload", ctx.Err()).WithTransfer(transfer.ID)
		}
		return result, errors.NewError("upload",
			fmt.Errorf("%w: %d of %d files uploaded", errors.ErrPartialTransfer, countComplete(result.Files), len(result.Files))).
			WithTransfer(transfer.ID)
	}

	update := &rest.TransferUpdate{Complete: true, Closed: req.Closed}
	if _, err := u.api.UpdateTransfer(ctx, transfer.ID, update); err != nil {
		result.State = fstypes.TransferFailed
		result.Duration = time.Since(startTime)
		return result, err
	}

	result.State = fstypes.TransferCompleted
	result.Duration = time.Since(startTime)
	u.log.Info("transfer complete", "transfer_id", transfer.ID, "duration", result.Duration)
	return result, nil
}

// createTransfer registers the transfer and its file metadata.
func (u *Uploader) createTransfer(ctx context.Context, req *Request) (*rest.Transfer, error) {
	metas := make([]rest.FileMeta, len(req.Files))
	for i, f := range req.Files {
		metas[i] = rest.FileMeta{
			Name:     f.Name,
			Size:     f.Size,
			MimeType: f.MimeType,
			CID:      f.CID,
		}
	}

	body := &rest.TransferRequest{
		From:       req.From,
		Files:      metas,
		Recipients: req.Options.Recipients,
		Subject:    req.Options.Subject,
		Message:    req.Options.Message,
	}
	if req.Options.ExpiryDays > 0 {
		body.Expires = time.Now().AddDate(0, 0, req.Options.ExpiryDays).Unix()
	}

	return u.api.CreateTransfer(ctx, body)
}

// uploadFile pushes one file's chunks in strict offset order, then marks the
// file complete. transferred is updated as chunks are acknowledged.
func (u *Uploader) uploadFile(ctx context.Context, f File, fileID, chunkSize int64, transferred *int64) error {
	handle, err := u.fsys.Open(f.Path)
	if err != nil {
		return errors.NewFileError("uploadFile", f.Path, err)
	}
	defer func() { _ = handle.Close() }()

	cursor := chunk.NewCursor(f.Size, chunkSize)
	for {
		span, ok := cursor.Next()
		if !ok {
			break
		}

		if err := u.gov.AcquireChunk(ctx); err != nil {
			return err
		}
		err := u.sendChunk(ctx, handle, f, fileID, span)
		u.gov.ReleaseChunk()
		if err != nil {
			return err
		}

		atomic.AddInt64(transferred, span.Length)
		if u.progress != nil {
			u.progress.Update(f.Name, atomic.LoadInt64(transferred), f.Size)
		}
	}

	return u.api.UpdateFile(ctx, fileID, &rest.FileUpdate{Complete: true})
}

// sendChunk reads one span from the file and uploads it through a pooled
// buffer.
func (u *Uploader) sendChunk(ctx context.Context, handle fs.File, f File, fileID int64, span chunk.Span) error {
	buf := u.buffers.Get()
	defer u.buffers.Put(buf)

	data, err := chunk.ReadSpan(handle, span, buf)
	if err != nil {
		return errors.NewFileError("uploadChunk", f.Path, err)
	}
	return u.api.UploadChunk(ctx, fileID, span.Offset, f.Size, data)
}

// matchFiles maps each requested file to the server-assigned file ID,
// preferring the client-chosen cid and falling back to name and size.
func matchFiles(local []File, remote []rest.TransferFile) ([]int64, error) {
	byCID := make(map[string]int64, len(remote))
	byNameSize := make(map[string]int64, len(remote))
	for _, rf := range remote {
		if rf.CID != "" {
			byCID[rf.CID] = rf.ID
		}
		byNameSize[fmt.Sprintf("%s\x00%d", rf.Name, rf.Size)] = rf.ID
	}

	ids := make([]int64, len(local))
	for i, lf := range local {
		if id, ok := byCID[lf.CID]; ok && lf.CID != "" {
			ids[i] = id
			continue
		}
		id, ok := byNameSize[fmt.Sprintf("%s\x00%d", lf.Name, lf.Size)]
		if !ok {
			return nil, fmt.Errorf("%w: server did not register file %q", errors.ErrServerProtocol, lf.Name)
		}
		ids[i] = id
	}
	return ids, nil
}

func countComplete(files []fstypes.FileResult) int {
	n := 0
	for _, f := range files {
		if f.State == fstypes.FileComplete {
			n++
		}
	}
	return n
}
