package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptguard/scriptguard/internal/certs"
)

func writeKeyPair(t *testing.T, dir, dnsName string) (certPath, keyPath string) {
	t.Helper()
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(24 * time.Hour)

	ca, err := certs.NewCA(notBefore, notAfter)
	require.NoError(t, err)
	serving, err := ca.IssueServingCert(dnsName, notBefore, notAfter)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "tls.crt")
	keyPath = filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, serving.CertPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, serving.KeyPEM, 0o600))
	return certPath, keyPath
}

func TestCertStore_EmptyUntilLoaded(t *testing.T) {
	store := newCertStore()
	_, err := store.GetCertificate(nil)
	assert.Error(t, err)
}

func TestWatchTLS_LoadsInitialPair(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir, certs.ServiceDNSName("scriptguard-webhook", "scriptguard-system"))

	s := New(":0", nil, nil, nil, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.WatchTLS(ctx, certPath, keyPath))

	cert, err := s.certStore.GetCertificate(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestWatchTLS_ReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir, certs.ServiceDNSName("scriptguard-webhook", "scriptguard-system"))

	s := New(":0", nil, nil, nil, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.WatchTLS(ctx, certPath, keyPath))

	before, err := s.certStore.GetCertificate(nil)
	require.NoError(t, err)

	// Overwrite with a freshly issued pair and wait for the watcher to
	// swap it in.
	writeKeyPair(t, dir, certs.ServiceDNSName("scriptguard-webhook", "scriptguard-system"))

	require.Eventually(t, func() bool {
		after, err := s.certStore.GetCertificate(nil)
		if err != nil {
			return false
		}
		return string(after.Certificate[0]) != string(before.Certificate[0])
	}, 5*time.Second, 50*time.Millisecond)
}
