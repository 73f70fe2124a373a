package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "filesender/errors"
	"filesender/fstypes"
	"filesender/internal/govern"
	"filesender/internal/pool"
	"filesender/internal/rest"
)

// apiStub implements API with overridable behavior per test.
type apiStub struct {
	mu sync.Mutex

	createTransferFunc func(ctx context.Context, body *rest.TransferRequest) (*rest.Transfer, error)
	uploadChunkFunc    func(ctx context.Context, fileID, offset, fileSize int64, data []byte) error

	// recorded calls
	chunks         map[int64][]int64 // fileID -> offsets in arrival order
	chunkSizes     map[int64][]int   // fileID -> chunk byte counts
	completedFiles []int64
	transferUpdate *rest.TransferUpdate
}

func newAPIStub() *apiStub {
	return &apiStub{
		chunks:     make(map[int64][]int64),
		chunkSizes: make(map[int64][]int),
	}
}

func (s *apiStub) CreateTransfer(ctx context.Context, body *rest.TransferRequest) (*rest.Transfer, error) {
	if s.createTransferFunc != nil {
		return s.createTransferFunc(ctx, body)
	}
	transfer := &rest.Transfer{ID: 100}
	for i, f := range body.Files {
		transfer.Files = append(transfer.Files, rest.TransferFile{
			ID:   int64(200 + i),
			Name: f.Name,
			Size: f.Size,
			CID:  f.CID,
		})
	}
	transfer.Recipients = []rest.Recipient{{ID: 1, TransferID: 100, Token: "dl-token"}}
	return transfer, nil
}

func (s *apiStub) UpdateTransfer(_ context.Context, _ int64, body *rest.TransferUpdate) (*rest.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferUpdate = body
	return &rest.Transfer{ID: 100}, nil
}

func (s *apiStub) UpdateFile(_ context.Context, id int64, _ *rest.FileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedFiles = append(s.completedFiles, id)
	return nil
}

func (s *apiStub) UploadChunk(ctx context.Context, fileID, offset, fileSize int64, data []byte) error {
	if s.uploadChunkFunc != nil {
		if err := s.uploadChunkFunc(ctx, fileID, offset, fileSize, data); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[fileID] = append(s.chunks[fileID], offset)
	s.chunkSizes[fileID] = append(s.chunkSizes[fileID], len(data))
	return nil
}

// trackerStub records progress callbacks.
type trackerStub struct {
	mu        sync.Mutex
	updates   map[string][]int64
	completed []string
	failed    map[string]error
}

func newTrackerStub() *trackerStub {
	return &trackerStub{
		updates: make(map[string][]int64),
		failed:  make(map[string]error),
	}
}

func (t *trackerStub) Update(file string, transferred, _ int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates[file] = append(t.updates[file], transferred)
}

func (t *trackerStub) Complete(file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, file)
}

func (t *trackerStub) Error(file string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[file] = err
}

func testUploader(t *testing.T, api API, files, chunks int, chunkSize int64) (*Uploader, *billy.FS) {
	t.Helper()
	fsys := billy.NewInMemoryFS()
	gov, err := govern.New(files, chunks)
	require.NoError(t, err)
	return New(api, fsys, gov, pool.NewChunkPool(chunkSize), slog.New(slog.DiscardHandler), nil), fsys
}

func writeFile(t *testing.T, fsys *billy.FS, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, fsys.WriteFile(path, data, 0o644))
	return data
}

func TestUploader_Run(t *testing.T) {
	const chunkSize = 64

	api := newAPIStub()
	uploader, fsys := testUploader(t, api, 2, 4, chunkSize)

	writeFile(t, fsys, "a.bin", 200)
	writeFile(t, fsys, "b.bin", 64)
	writeFile(t, fsys, "empty.bin", 0)

	req := &Request{
		From: "alice@example.org",
		Files: []File{
			{Path: "a.bin", Name: "a.bin", Size: 200, CID: "cid-a"},
			{Path: "b.bin", Name: "b.bin", Size: 64, CID: "cid-b"},
			{Path: "empty.bin", Name: "empty.bin", Size: 0, CID: "cid-empty"},
		},
		Options:   fstypes.UploadOptions{Recipients: []string{"bob@example.org"}},
		ChunkSize: chunkSize,
	}

	result, err := uploader.Run(context.Background(), req, time.Now())
	require.NoError(t, err)

	assert.EqualValues(t, 100, result.ID)
	assert.Equal(t, fstypes.TransferCompleted, result.State)
	assert.Equal(t, "dl-token", result.DownloadToken)
	require.Len(t, result.Files, 3)
	for _, f := range result.Files {
		assert.Equal(t, fstypes.FileComplete, f.State, f.Name)
		assert.Equal(t, f.Size, f.Transferred, f.Name)
	}

	// 200 bytes in 64 byte chunks: offsets 0, 64, 128, 192, strictly ordered.
	assert.Equal(t, []int64{0, 64, 128, 192}, api.chunks[200])
	assert.Equal(t, []int{64, 64, 64, 8}, api.chunkSizes[200])
	assert.Equal(t, []int64{0}, api.chunks[201])

	// A zero-byte file still makes exactly one (empty) chunk round trip.
	assert.Equal(t, []int64{0}, api.chunks[202])
	assert.Equal(t, []int{0}, api.chunkSizes[202])

	assert.ElementsMatch(t, []int64{200, 201, 202}, api.completedFiles)
	require.NotNil(t, api.transferUpdate)
	assert.True(t, api.transferUpdate.Complete)
}

func TestUploader_FailedFileHaltsNewStarts(t *testing.T) {
	const chunkSize = 32

	api := newAPIStub()
	api.uploadChunkFunc = func(_ context.Context, fileID, _, _ int64, _ []byte) error {
		if fileID == 201 {
			return fmt.Errorf("%w: simulated fatal rejection", fserrors.ErrAuthenticationRejected)
		}
		return nil
	}

	// One file slot so completion order is deterministic.
	uploader, fsys := testUploader(t, api, 1, 2, chunkSize)
	writeFile(t, fsys, "ok.bin", 64)
	writeFile(t, fsys, "bad.bin", 64)
	writeFile(t, fsys, "never.bin", 64)

	req := &Request{
		Files: []File{
			{Path: "ok.bin", Name: "ok.bin", Size: 64, CID: "c1"},
			{Path: "bad.bin", Name: "bad.bin", Size: 64, CID: "c2"},
			{Path: "never.bin", Name: "never.bin", Size: 64, CID: "c3"},
		},
		ChunkSize: chunkSize,
	}

	result, err := uploader.Run(context.Background(), req, time.Now())
	require.Error(t, err)
	assert.True(t, fserrors.IsPartialTransfer(err))

	assert.Equal(t, fstypes.TransferFailed, result.State)
	assert.Equal(t, fstypes.FileComplete, result.Files[0].State)
	assert.Equal(t, fstypes.FileFailed, result.Files[1].State)
	require.Error(t, result.Files[1].Err)
	assert.Equal(t, fstypes.FilePending, result.Files[2].State, "files after a failure must not start")

	assert.Nil(t, api.transferUpdate, "a failed transfer is never marked complete")
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "bad.bin", result.Failed()[0].Name)
}

func TestUploader_MatchesByNameAndSizeWithoutCID(t *testing.T) {
	api := newAPIStub()
	api.createTransferFunc = func(_ context.Context, body *rest.TransferRequest) (*rest.Transfer, error) {
		transfer := &rest.Transfer{ID: 100}
		// Server that drops the cid from its file records.
		for i, f := range body.Files {
			transfer.Files = append(transfer.Files, rest.TransferFile{
				ID:   int64(300 + i),
				Name: f.Name,
				Size: f.Size,
			})
		}
		return transfer, nil
	}

	uploader, fsys := testUploader(t, api, 1, 1, 16)
	writeFile(t, fsys, "f.bin", 10)

	req := &Request{
		Files:     []File{{Path: "f.bin", Name: "f.bin", Size: 10, CID: "ignored"}},
		ChunkSize: 16,
	}

	result, err := uploader.Run(context.Background(), req, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 300, result.Files[0].ID)
}

func TestUploader_UnregisteredFileIsProtocolError(t *testing.T) {
	api := newAPIStub()
	api.createTransferFunc = func(_ context.Context, _ *rest.TransferRequest) (*rest.Transfer, error) {
		return &rest.Transfer{ID: 100}, nil
	}

	uploader, fsys := testUploader(t, api, 1, 1, 16)
	writeFile(t, fsys, "f.bin", 10)

	req := &Request{
		Files:     []File{{Path: "f.bin", Name: "f.bin", Size: 10, CID: "c"}},
		ChunkSize: 16,
	}

	result, err := uploader.Run(context.Background(), req, time.Now())
	require.Error(t, err)
	assert.True(t, fserrors.IsServerProtocol(err))
	assert.Equal(t, fstypes.TransferFailed, result.State)
}

func TestUploader_ReportsProgress(t *testing.T) {
	api := newAPIStub()
	tracker := newTrackerStub()

	fsys := billy.NewInMemoryFS()
	gov, err := govern.New(1, 1)
	require.NoError(t, err)
	uploader := New(api, fsys, gov, pool.NewChunkPool(32), slog.New(slog.DiscardHandler), tracker)

	writeFile(t, fsys, "p.bin", 80)

	req := &Request{
		Files:     []File{{Path: "p.bin", Name: "p.bin", Size: 80, CID: "c"}},
		ChunkSize: 32,
	}

	_, err = uploader.Run(context.Background(), req, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []int64{32, 64, 80}, tracker.updates["p.bin"], "cumulative bytes after each chunk")
	assert.Equal(t, []string{"p.bin"}, tracker.completed)
	assert.Empty(t, tracker.failed)
}
