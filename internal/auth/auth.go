// Package auth turns logical credentials into per-request authentication
// artifacts for the FileSender REST API.
//
// User credentials produce a keyed HMAC-SHA1 signature over a canonical
// string built from the request method, URL and body. Guest credentials
// attach their voucher token. Anonymous requests pass through untouched.
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"filesender/errors"
	"filesender/fstypes"
)

// Signer attaches an authentication artifact to an outgoing request.
// Sign must be called once per attempt: keyed signatures embed a timestamp
// and are not reusable across retries.
type Signer interface {
	// Sign authenticates req in place. body is the exact request payload
	// (nil when the request carries none); keyed signers hash it.
	Sign(req *http.Request, body []byte) error
}

// NewSigner selects the signing strategy for the given credential variant.
// Malformed credentials fail here, never at signing time.
func NewSigner(cred fstypes.Credential, delay time.Duration, now func() time.Time) (Signer, error) {
	if now == nil {
		now = time.Now
	}
	switch c := cred.(type) {
	case fstypes.UserCredential:
		if c.Username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", errors.ErrInvalidCredential)
		}
		if c.APIKey == "" {
			return nil, fmt.Errorf("%w: api key must not be empty", errors.ErrInvalidCredential)
		}
		return &userSigner{username: c.Username, apiKey: []byte(c.APIKey), delay: delay, now: now}, nil
	case fstypes.GuestCredential:
		if c.Token == "" {
			return nil, fmt.Errorf("%w: guest token must not be empty", errors.ErrInvalidCredential)
		}
		if c.Email == "" {
			return nil, fmt.Errorf("%w: guest email must not be empty", errors.ErrInvalidCredential)
		}
		return &guestSigner{token: c.Token}, nil
	case fstypes.AnonymousCredential, nil:
		return anonymousSigner{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown credential variant %T", errors.ErrInvalidCredential, cred)
	}
}

// userSigner signs requests with the account's API key.
type userSigner struct {
	username string
	apiKey   []byte

	// delay shifts the signature timestamp forward so a signature stays
	// valid while a slow chunk is still in flight
	delay time.Duration

	now func() time.Time
}

// Sign adds the remote_user and timestamp parameters, sorts all query
// parameters alphabetically, and appends the HMAC-SHA1 signature over
// "method&url&body" as the final parameter. The URL portion is the request
// URL without its scheme and without percent-encoding, query included.
func (s *userSigner) Sign(req *http.Request, body []byte) error {
	params := req.URL.Query()
	params.Set("remote_user", s.username)
	params.Set("timestamp", strconv.FormatInt(s.now().Add(s.delay).Unix(), 10))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make([]string, 0, len(keys))
	encoded := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		v := params.Get(k)
		canonical = append(canonical, k+"="+v)
		encoded = append(encoded, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}

	mac := hmac.New(sha1.New, s.apiKey)
	mac.Write([]byte(strings.ToLower(req.Method)))
	mac.Write([]byte("&"))
	mac.Write([]byte(req.URL.Host + req.URL.Path + "?" + strings.Join(canonical, "&")))
	if body != nil {
		mac.Write([]byte("&"))
		mac.Write(body)
	}
	signature := hex.EncodeToString(mac.Sum(nil))

	// The server verifies over everything before the signature parameter,
	// so it must come last; url.Values.Encode would reorder it.
	encoded = append(encoded, "signature="+signature)
	req.URL.RawQuery = strings.Join(encoded, "&")
	return nil
}

// guestSigner authenticates with a static voucher token. No per-request
// digest is involved.
type guestSigner struct {
	token string
}

func (s *guestSigner) Sign(req *http.Request, _ []byte) error {
	params := req.URL.Query()
	params.Set("vid", s.token)
	req.URL.RawQuery = params.Encode()
	return nil
}

// anonymousSigner leaves the request untouched. Token-based downloads and
// server info lookups carry their token in the query already.
type anonymousSigner struct{}

func (anonymousSigner) Sign(*http.Request, []byte) error { return nil }
