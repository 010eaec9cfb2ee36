package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.NotEmpty(t, cert.Certificate)
	c, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return c
}

func TestStoreLoad(t *testing.T) {
	tests := []struct {
		setup     func(t *testing.T, s *Store)
		name      string
		reuses    bool
		wantError bool
	}{
		{
			name:  "generates when missing",
			setup: func(*testing.T, *Store) {},
		},
		{
			name: "reuses a valid certificate",
			setup: func(t *testing.T, s *Store) {
				_, err := s.Load()
				require.NoError(t, err)
			},
			reuses: true,
		},
		{
			name: "replaces corrupt files",
			setup: func(t *testing.T, s *Store) {
				require.NoError(t, os.MkdirAll(s.dir, 0o700))
				require.NoError(t, os.WriteFile(s.certFile, []byte("garbage"), 0o600))
				require.NoError(t, os.WriteFile(s.keyFile, []byte("garbage"), 0o600))
			},
		},
		{
			name: "replaces an expired certificate",
			setup: func(t *testing.T, s *Store) {
				s.now = func() time.Time { return time.Now().Add(-2 * validFor) }
				_, err := s.Load()
				require.NoError(t, err)
				s.now = time.Now
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(filepath.Join(t.TempDir(), "certs"))
			tt.setup(t, s)

			var before []byte
			if tt.reuses {
				var err error
				before, err = os.ReadFile(s.CertFile())
				require.NoError(t, err)
			}

			cert, err := s.Load()
			require.NoError(t, err)

			c := leaf(t, cert)
			assert.NoError(t, c.VerifyHostname("localhost"))
			assert.NoError(t, c.VerifyHostname("127.0.0.1"))
			assert.True(t, time.Now().Before(c.NotAfter))

			if tt.reuses {
				after, err := os.ReadFile(s.CertFile())
				require.NoError(t, err)
				assert.Equal(t, before, after)
			}

			info, err := os.Stat(s.keyFile)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		})
	}
}

func TestLoadPool(t *testing.T) {
	s := NewStore(t.TempDir())
	cert, err := s.Load()
	require.NoError(t, err)

	pool, err := LoadPool(s.CertFile())
	require.NoError(t, err)

	_, err = leaf(t, cert).Verify(x509.VerifyOptions{
		Roots:   pool,
		DNSName: "localhost",
	})
	assert.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(bad, []byte("nothing here"), 0o600))
	_, err = LoadPool(bad)
	assert.ErrorIs(t, err, ErrNoCertificates)

	_, err = LoadPool(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}
