package filesender

import (
	"context"
	"fmt"
	"time"

	"filesender/errors"
	"filesender/fstypes"
	"filesender/internal/rest"
)

// CreateGuest invites someone to upload files back by sending them a voucher.
// The returned Guest carries the voucher token the invitee authenticates
// with.
func (c *Client) CreateGuest(ctx context.Context, opts fstypes.GuestOptions) (*fstypes.Guest, error) {
	if opts.Recipient == "" {
		return nil, errors.NewError("createGuest",
			fmt.Errorf("%w: voucher needs a recipient address", errors.ErrInvalidInput))
	}

	req := &rest.GuestRequest{
		From:      c.senderIdentity(""),
		Recipient: opts.Recipient,
		Subject:   opts.Subject,
		Message:   opts.Message,
		Options: &rest.GuestRequestOptions{
			Guest: rest.GuestFlags{
				ValidOnlyOneTime:  opts.OneTime,
				CanOnlySendToMe:   opts.OnlySendToMe,
				EmailGuestCreated: true,
			},
			Transfer: rest.GuestTransferFlags{
				AddMeToRecipients: opts.OnlySendToMe,
			},
		},
	}
	if opts.ExpiryDays > 0 {
		req.Expires = time.Now().AddDate(0, 0, opts.ExpiryDays).Unix()
	}

	guest, err := c.rest.CreateGuest(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.Info("guest voucher created", "guest_id", guest.ID, "recipient", guest.Email)
	return guest, nil
}
