package rest

// Wire types for the FileSender REST API. Field names and shapes follow the
// server's JSON contract; optional request fields are omitted when empty so
// the server applies its own defaults.

// FileMeta declares one file when creating a transfer.
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`

	// CID is a client-generated id echoed back by the server so response
	// entries can be matched to local files regardless of name collisions.
	CID string `json:"cid,omitempty"`
}

// TransferRequest creates a server-side transfer record.
type TransferRequest struct {
	From       string     `json:"from,omitempty"`
	Files      []FileMeta `json:"files"`
	Recipients []string   `json:"recipients"`
	Subject    string     `json:"subject,omitempty"`
	Message    string     `json:"message,omitempty"`

	// Expires is a unix timestamp; zero lets the server pick its default
	Expires int64 `json:"expires,omitempty"`

	Options []string `json:"options,omitempty"`
}

// TransferUpdate mutates a transfer's lifecycle flags.
type TransferUpdate struct {
	Complete         bool `json:"complete,omitempty"`
	Closed           bool `json:"closed,omitempty"`
	ExtendExpiryDate bool `json:"extend_expiry_date,omitempty"`
	Remind           bool `json:"remind,omitempty"`
}

// FileUpdate marks a file's upload state.
type FileUpdate struct {
	Complete bool `json:"complete"`
}

// TransferFile is the server's record of one file within a transfer.
type TransferFile struct {
	ID         int64  `json:"id"`
	TransferID int64  `json:"transfer_id"`
	UID        string `json:"uid"`
	CID        string `json:"cid"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
}

// Recipient is one addressee of a transfer, with the token they download by.
type Recipient struct {
	ID          int64  `json:"id"`
	TransferID  int64  `json:"transfer_id"`
	Email       string `json:"email"`
	Token       string `json:"token"`
	DownloadURL string `json:"download_url"`
}

// Transfer is the server's record of a transfer.
type Transfer struct {
	ID             int64          `json:"id"`
	UserEmail      string         `json:"user_email"`
	Subject        string         `json:"subject"`
	Message        string         `json:"message"`
	Files          []TransferFile `json:"files"`
	Recipients     []Recipient    `json:"recipients"`
	RoundtripToken string         `json:"roundtriptoken"`
}

// GuestFlags controls voucher behavior.
type GuestFlags struct {
	ValidOnlyOneTime         bool `json:"valid_only_one_time"`
	CanOnlySendToMe          bool `json:"can_only_send_to_me"`
	EmailGuestCreated        bool `json:"email_guest_created"`
	EmailUploadStarted       bool `json:"email_upload_started"`
	EmailGuestCreatedReceipt bool `json:"email_guest_created_receipt"`
}

// GuestTransferFlags controls transfers made through the voucher.
type GuestTransferFlags struct {
	AddMeToRecipients bool `json:"add_me_to_recipients"`
}

// GuestRequestOptions groups voucher and transfer flags.
type GuestRequestOptions struct {
	Guest    GuestFlags         `json:"guest"`
	Transfer GuestTransferFlags `json:"transfer"`
}

// GuestRequest creates a guest voucher invitation.
type GuestRequest struct {
	From      string               `json:"from"`
	Recipient string               `json:"recipient"`
	Subject   string               `json:"subject,omitempty"`
	Message   string               `json:"message,omitempty"`
	Options   *GuestRequestOptions `json:"options,omitempty"`

	// Expires is a unix timestamp; zero lets the server pick its default
	Expires int64 `json:"expires,omitempty"`
}

// DownloadFile describes one file reachable through a download token.
type DownloadFile struct {
	ID         int64  `json:"id"`
	TransferID int64  `json:"transfer_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime"`
}

// DownloadManifest is the ordered file list a download token resolves to.
type DownloadManifest struct {
	Files []DownloadFile `json:"files"`
}
