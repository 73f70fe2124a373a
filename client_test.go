package filesender

import (
	"context"
	"testing"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "filesender/errors"
	"filesender/fstypes"
	"filesender/internal/testutil"
)

func newTestClient(t *testing.T, server *testutil.Server, fsys *billy.FS, extra ...fstypes.Option) *Client {
	t.Helper()
	opts := append([]fstypes.Option{
		WithBaseURL(server.URL()),
		WithUserAuth("alice", "secret-key"),
		WithFilesystem(fsys),
		WithChunkSize(64),
		WithRetryWait(time.Millisecond, 5*time.Millisecond),
	}, extra...)
	client, err := New(opts...)
	require.NoError(t, err)
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    []fstypes.Option
		wantErr error
	}{
		{
			name:    "missing base URL",
			opts:    []fstypes.Option{WithUserAuth("alice", "key")},
			wantErr: fserrors.ErrInvalidInput,
		},
		{
			name: "user credential without key",
			opts: []fstypes.Option{
				WithBaseURL("https://files.example.org"),
				WithUserAuth("alice", ""),
			},
			wantErr: fserrors.ErrInvalidCredential,
		},
		{
			name: "guest credential without token",
			opts: []fstypes.Option{
				WithBaseURL("https://files.example.org"),
				WithGuestAuth("", "guest@example.org"),
			},
			wantErr: fserrors.ErrInvalidCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_AnonymousByDefault(t *testing.T) {
	client, err := New(WithBaseURL("https://files.example.org"))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.org/rest.php", client.BaseURL())
}

func TestClient_UploadDownloadRoundTrip(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	fsys := billy.NewInMemoryFS()
	big := patternBytes(200, 1)  // 4 chunks of 64
	tiny := patternBytes(30, 9)  // single short chunk
	require.NoError(t, fsys.WriteFile("big.bin", big, 0o644))
	require.NoError(t, fsys.WriteFile("tiny.bin", tiny, 0o644))
	require.NoError(t, fsys.WriteFile("empty.bin", nil, 0o644))

	client := newTestClient(t, server, fsys)

	result, err := client.Upload(context.Background(),
		[]string{"big.bin", "tiny.bin", "empty.bin"},
		fstypes.UploadOptions{Recipients: []string{"bob@example.org"}})
	require.NoError(t, err)

	assert.Equal(t, fstypes.TransferCompleted, result.State)
	require.NotEmpty(t, result.DownloadToken)
	require.Len(t, result.Files, 3)
	for _, f := range result.Files {
		assert.Equal(t, fstypes.FileComplete, f.State, f.Name)
	}

	transfer := server.Transfer(result.ID)
	require.NotNil(t, transfer)
	assert.True(t, transfer.Complete)

	// Fetch the transfer back and compare byte for byte.
	dl, err := client.Download(context.Background(), result.DownloadToken, "inbox")
	require.NoError(t, err)
	assert.Equal(t, fstypes.TransferCompleted, dl.State)

	got, err := fsys.ReadFile("inbox/big.bin")
	require.NoError(t, err)
	assert.Equal(t, big, got)

	got, err = fsys.ReadFile("inbox/tiny.bin")
	require.NoError(t, err)
	assert.Equal(t, tiny, got)

	got, err = fsys.ReadFile("inbox/empty.bin")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_UploadFlattensDirectories(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("docs/a.txt", []byte("aaa"), 0o644))
	require.NoError(t, fsys.WriteFile("docs/sub/b.txt", []byte("bbbb"), 0o644))

	client := newTestClient(t, server, fsys)

	result, err := client.Upload(context.Background(), []string{"docs"}, fstypes.UploadOptions{})
	require.NoError(t, err)

	names := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names, "nesting is flattened to base names")
}

func TestClient_UploadRejectsMissingPaths(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client := newTestClient(t, server, billy.NewInMemoryFS())

	_, err := client.Upload(context.Background(), []string{"does-not-exist.bin"}, fstypes.UploadOptions{})
	require.Error(t, err)

	_, err = client.Upload(context.Background(), nil, fstypes.UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrInvalidInput)
}

func TestClient_ChunkSizeClampedToServerLimit(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()
	// Server accepts far smaller chunks than the client prefers.
	server.UploadChunkSize = 16

	fsys := billy.NewInMemoryFS()
	data := patternBytes(100, 3)
	require.NoError(t, fsys.WriteFile("f.bin", data, 0o644))

	client := newTestClient(t, server, fsys)

	result, err := client.Upload(context.Background(), []string{"f.bin"}, fstypes.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, fstypes.TransferCompleted, result.State)

	transfer := server.Transfer(result.ID)
	require.NotNil(t, transfer)
	for _, f := range transfer.Files {
		assert.Equal(t, data, f.Data)
	}
}

func TestClient_SignedRequestsPassSignatureCheck(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()
	server.RequireSignature = true

	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("f.bin", patternBytes(10, 1), 0o644))

	client := newTestClient(t, server, fsys)

	_, err := client.Upload(context.Background(), []string{"f.bin"}, fstypes.UploadOptions{})
	require.NoError(t, err)
}

func TestClient_AnonymousUploadIsRejected(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()
	server.RequireSignature = true

	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("f.bin", patternBytes(10, 1), 0o644))

	client, err := New(
		WithBaseURL(server.URL()),
		WithFilesystem(fsys),
		WithRetryWait(time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = client.Upload(context.Background(), []string{"f.bin"}, fstypes.UploadOptions{})
	require.Error(t, err)
	assert.True(t, fserrors.IsAuthenticationRejected(err))
}

func TestClient_CreateGuest(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client := newTestClient(t, server, billy.NewInMemoryFS())

	guest, err := client.CreateGuest(context.Background(), fstypes.GuestOptions{
		Recipient: "carol@example.org",
		Subject:   "send me the data",
		OneTime:   true,
	})
	require.NoError(t, err)
	assert.NotZero(t, guest.ID)
	assert.NotEmpty(t, guest.Token)
	assert.Equal(t, "carol@example.org", guest.Email)

	_, err = client.CreateGuest(context.Background(), fstypes.GuestOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrInvalidInput)
}

func TestClient_ServerInfo(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()
	server.UploadChunkSize = 12345

	client := newTestClient(t, server, billy.NewInMemoryFS())

	info, err := client.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 12345, info.UploadChunkSize)
}

func patternBytes(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%113)
	}
	return data
}
