// Package fstypes provides shared type definitions for the FileSender client.
package fstypes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs"
)

// TransferState represents the lifecycle state of a transfer.
type TransferState string

// Transfer lifecycle states. Completed and Failed are terminal.
const (
	// TransferCreated means the server-side transfer record exists but no
	// file data has moved yet
	TransferCreated TransferState = "created"

	// TransferUploading means file chunks are being sent
	TransferUploading TransferState = "uploading"

	// TransferDownloading means file chunks are being fetched
	TransferDownloading TransferState = "downloading"

	// TransferCompleted means every constituent file completed
	TransferCompleted TransferState = "completed"

	// TransferFailed means at least one file ended in failure
	TransferFailed TransferState = "failed"
)

// FileState represents the lifecycle state of a single file within a transfer.
type FileState string

// File lifecycle states. Complete and Failed are terminal.
const (
	// FilePending means the file has not started transferring
	FilePending FileState = "pending"

	// FileActive means the file's chunk loop is running
	FileActive FileState = "active"

	// FileComplete means every byte of the file was transferred
	FileComplete FileState = "complete"

	// FileFailed means the file exhausted retries or hit a fatal error
	FileFailed FileState = "failed"
)

// Credential identifies the caller to the FileSender server. The set of
// variants is closed: UserCredential for account holders, GuestCredential for
// voucher uploads, AnonymousCredential for token downloads. The variant is
// selected at construction and never inspected at runtime outside the signer.
type Credential interface {
	credential()
}

// UserCredential is a long-lived user identity: a username plus the API key
// issued by the server. Immutable once constructed.
type UserCredential struct {
	// Username is the account name, sent as the remote_user parameter
	Username string

	// APIKey is the HMAC signing secret. It is never logged or transmitted.
	APIKey string
}

func (UserCredential) credential() {}

// GuestCredential is a single-use voucher identity for uploading into a
// transfer the guest was invited to.
type GuestCredential struct {
	// Token is the voucher token (the vid parameter of the upload URL)
	Token string

	// Email is the address the invitation was sent to
	Email string
}

func (GuestCredential) credential() {}

// AnonymousCredential carries no identity. Token-based downloads and server
// info lookups need none.
type AnonymousCredential struct{}

func (AnonymousCredential) credential() {}

// ProgressTracker defines the interface for tracking transfer progress.
// Implementations receive per-file updates as chunks complete. Methods may be
// called from multiple file workers concurrently, but never concurrently for
// the same file.
type ProgressTracker interface {
	// Update is called after each chunk with the file's cumulative progress
	Update(file string, bytesTransferred, totalBytes int64)

	// Complete is called when a file finishes successfully
	Complete(file string)

	// Error is called when a file fails
	Error(file string, err error)
}

// FileResult reports the outcome of one file within a transfer.
type FileResult struct {
	// ID is the server-assigned file id (0 if never registered)
	ID int64

	// Name is the logical file name known to the server
	Name string

	// Path is the local source path (upload) or the relative placement path
	// under the output directory (download)
	Path string

	// Size is the declared size in bytes
	Size int64

	// Transferred is the number of bytes that actually moved
	Transferred int64

	// State is the file's terminal (or last observed) state
	State FileState

	// Err is the failure cause when State is FileFailed
	Err error
}

// TransferResult reports the outcome of an upload or download operation with
// the full per-file breakdown.
type TransferResult struct {
	// ID is the server-assigned transfer id (uploads only)
	ID int64

	// State is the transfer's terminal state
	State TransferState

	// Files holds one result per file, in the order the files were given
	Files []FileResult

	// DownloadToken is the recipient token usable to fetch the transfer
	// back, when the server returned one
	DownloadToken string

	// Duration is how long the operation took
	Duration time.Duration
}

// Failed returns the results of files that ended in failure.
func (r *TransferResult) Failed() []FileResult {
	var failed []FileResult
	for _, f := range r.Files {
		if f.State == FileFailed {
			failed = append(failed, f)
		}
	}
	return failed
}

// ServerInfo describes the remote server's advertised limits and identity.
type ServerInfo struct {
	// URL is the server's own notion of its base URL
	URL string `json:"url"`

	// UploadChunkSize is the largest chunk the server accepts, in bytes
	UploadChunkSize int64 `json:"upload_chunk_size"`

	// MaxTransferSize is the largest total transfer the server accepts
	MaxTransferSize int64 `json:"max_transfer_size"`

	// MaxTransferFiles is the largest file count per transfer
	MaxTransferFiles int `json:"max_transfer_files"`

	// DefaultTransferDaysValid is the default expiry the server applies
	DefaultTransferDaysValid int `json:"default_transfer_days_valid"`
}

// UploadOptions holds per-upload settings beyond the file list.
type UploadOptions struct {
	// Recipients are the email addresses to send the files to. Ignored for
	// voucher uploads, where the server fixes the recipient.
	Recipients []string

	// From overrides the sender identity; defaults to the credential's
	// username or guest email
	From string

	// Subject is an optional subject line shown to recipients
	Subject string

	// Message is an optional message shown to recipients
	Message string

	// ExpiryDays sets the transfer's validity in days; 0 uses the server
	// default
	ExpiryDays int
}

// GuestOptions holds settings for creating a guest voucher invitation.
type GuestOptions struct {
	// Recipient is the email address of the person being invited
	Recipient string

	// Subject is an optional subject line for the invitation email
	Subject string

	// Message is an optional message for the invitation email
	Message string

	// OneTime restricts the voucher to a single upload
	OneTime bool

	// OnlySendToMe restricts the voucher to sending files back to its creator
	OnlySendToMe bool

	// ExpiryDays sets the voucher's validity in days; 0 uses the server
	// default
	ExpiryDays int
}

// Guest describes a created voucher as reported by the server.
type Guest struct {
	// ID is the server-assigned voucher id
	ID int64 `json:"id"`

	// Token is the voucher token the invitee uploads with
	Token string `json:"token"`

	// Email is the invitee's address
	Email string `json:"email"`
}

// ClientConfig holds configuration for the FileSender client.
type ClientConfig struct {
	BaseURL          string
	Credential       Credential
	ConcurrentFiles  int
	ConcurrentChunks int
	ChunkSize        int64
	MaxRetries       int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	SignatureDelay   time.Duration
	HTTPClient       *http.Client
	Filesystem       fs.Filesystem // Filesystem abstraction for chunk I/O
	Logger           *slog.Logger
	ProgressTracker  ProgressTracker
}

// Option is a functional option for configuring the FileSender client.
type Option func(*ClientConfig)
