package filesender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/operations/upload"
)

// Upload sends the named files and directories as one transfer. Directory
// arguments are walked and their files uploaded under their base names; the
// protocol has no notion of hierarchy, so nesting is flattened.
//
// Files transfer concurrently within the client's bounds, each file's chunks
// in strict offset order. When a file fails, files not yet started are left
// pending and the result is returned with the per-file breakdown alongside
// the error.
func (c *Client) Upload(ctx context.Context, paths []string, opts fstypes.UploadOptions) (*fstypes.TransferResult, error) {
	start := time.Now()

	files, err := c.collectFiles(paths)
	if err != nil {
		return nil, err
	}

	_, isGuest := c.cfg.Credential.(fstypes.GuestCredential)

	req := &upload.Request{
		From:      c.senderIdentity(opts.From),
		Files:     files,
		Options:   opts,
		ChunkSize: c.effectiveChunkSize(ctx),
		// A voucher is good for one transfer; close it on completion.
		Closed: isGuest,
	}

	uploader := upload.New(c.rest, c.fsys, c.gov, c.buffers, c.log, c.cfg.ProgressTracker)
	return uploader.Run(ctx, req, start)
}

// collectFiles expands the argument paths into upload descriptors: regular
// files as given, directories walked for the regular files below them.
func (c *Client) collectFiles(paths []string) ([]upload.File, error) {
	if len(paths) == 0 {
		return nil, errors.NewError("upload",
			fmt.Errorf("%w: no files given", errors.ErrInvalidInput))
	}

	var files []upload.File
	for _, p := range paths {
		info, err := c.fsys.Stat(p)
		if err != nil {
			return nil, errors.NewFileError("upload", p, err)
		}

		if !info.IsDir() {
			files = append(files, c.describeFile(p, info.Size()))
			continue
		}

		err = c.fsys.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !info.Mode().IsRegular() {
				return nil
			}
			files = append(files, c.describeFile(path, info.Size()))
			return nil
		})
		if err != nil {
			return nil, errors.NewFileError("upload", p, err)
		}
	}

	if len(files) == 0 {
		return nil, errors.NewError("upload",
			fmt.Errorf("%w: no regular files under the given paths", errors.ErrInvalidInput))
	}
	return files, nil
}

// describeFile builds the registration metadata for one local file: its base
// name, detected MIME type and a client-chosen id used to match the server's
// records back to it.
func (c *Client) describeFile(path string, size int64) upload.File {
	return upload.File{
		Path:     path,
		Name:     filepath.Base(path),
		Size:     size,
		MimeType: c.detectMimeType(path),
		CID:      uuid.NewString(),
	}
}

// detectMimeType sniffs the file's content type from its leading bytes.
func (c *Client) detectMimeType(path string) string {
	const sniffLen = 3072

	f, err := c.fsys.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, _ := f.Read(buf)
	if n == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(buf[:n]).String()
}
