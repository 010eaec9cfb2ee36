package mockserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"
)

// Signature errors.
var (
	ErrBadSignature = errors.New("signature does not match")
	ErrLinkExpired  = errors.New("link has expired")
	ErrBadExpiry    = errors.New("expires is not a unix timestamp")
)

// Signer issues and verifies time-limited download URLs. The signature is
// an HMAC-SHA256 over "<canonical path>:<expiry>".
type Signer struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer. A zero ttl means one hour.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// canonicalPath removes percent escapes and dot segments so equivalent
// spellings of a path share one signature.
func canonicalPath(p string) string {
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return path.Clean("/" + p)
}

func (s *Signer) mac(p string, expiry int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s:%d", canonicalPath(p), expiry)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns p with expires and signature query parameters.
func (s *Signer) Sign(p string) string {
	expiry := s.now().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiry, 10))
	q.Set("signature", s.mac(p, expiry))
	return canonicalPath(p) + "?" + q.Encode()
}

// Verify checks a signature for p. Tampering is reported before expiry.
func (s *Signer) Verify(p, expires, signature string) error {
	expiry, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadExpiry
	}
	if !hmac.Equal([]byte(s.mac(p, expiry)), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > expiry {
		return ErrLinkExpired
	}
	return nil
}
