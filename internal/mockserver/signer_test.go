package mockserver

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(now time.Time) *Signer {
	s := NewSigner("secret", 15*time.Minute)
	s.now = func() time.Time { return now }
	return s
}

func splitSigned(t *testing.T, signed string) (path, expires, signature string) {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return u.Path, u.Query().Get("expires"), u.Query().Get("signature")
}

func TestSignerRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := fixedSigner(now)

	p, exp, sig := splitSigned(t, s.Sign("/download/job-1/summary"))
	assert.Equal(t, "/download/job-1/summary", p)
	assert.Equal(t, "1700000900", exp)
	assert.Len(t, sig, 64)
	assert.NoError(t, s.Verify(p, exp, sig))
}

func TestSignerRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := fixedSigner(now)
	p, exp, sig := splitSigned(t, s.Sign("/download/job-1/summary"))

	tampered := []byte(sig)
	if tampered[len(tampered)-1] == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}

	tests := []struct {
		name    string
		signer  *Signer
		path    string
		expires string
		sig     string
		want    error
	}{
		{"tampered signature", s, p, exp, string(tampered), ErrBadSignature},
		{"other path", s, "/download/job-2/summary", exp, sig, ErrBadSignature},
		{"extended expiry", s, p, "1800000000", sig, ErrBadSignature},
		{"bad expiry", s, p, "soon", sig, ErrBadExpiry},
		{"other secret", NewSigner("other", time.Minute), p, exp, sig, ErrBadSignature},
		{"expired", fixedSigner(now.Add(time.Hour)), p, exp, sig, ErrLinkExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.signer.Verify(tt.path, tt.expires, tt.sig), tt.want)
		})
	}
}

func TestSignerCanonicalPath(t *testing.T) {
	s := fixedSigner(time.Unix(1_700_000_000, 0))
	_, exp, sig := splitSigned(t, s.Sign("/download/job-1/summary"))

	assert.NoError(t, s.Verify("/download/x/../job-1/summary", exp, sig))
	assert.NoError(t, s.Verify("/download/job%2D1/summary", exp, sig))
}

func TestNewSignerDefaultTTL(t *testing.T) {
	s := NewSigner("k", 0)
	assert.Equal(t, time.Hour, s.ttl)
}
