package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/scriptguard/scriptguard/internal/watch"
)

// certStore holds the currently served TLS certificate under a
// sync.RWMutex, swapped in place whenever the cert or key file changes on
// disk.
type certStore struct {
	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertStore() *certStore {
	return &certStore{}
}

// GetCertificate is installed as tls.Config.GetCertificate so every new
// handshake picks up the latest loaded pair.
func (c *certStore) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cert == nil {
		return nil, fmt.Errorf("tls certificate not yet loaded")
	}
	return c.cert, nil
}

func (c *certStore) set(cert tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cert = &cert
}

// watchTLS installs two file watchers, one on the cert path and one on the
// key path, each reloading the full pair on change. Either file changing
// (a cert renewal commonly replaces both atomically) re-reads both.
func (s *Server) watchTLS(ctx context.Context, certPath, keyPath string) error {
	reload := func([]byte) error {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		s.certStore.set(cert)
		return nil
	}

	certWatcher, err := watch.NewFile(certPath, reload)
	if err != nil {
		return fmt.Errorf("watch cert path %s: %w", certPath, err)
	}
	keyWatcher, err := watch.NewFile(keyPath, reload)
	if err != nil {
		return fmt.Errorf("watch key path %s: %w", keyPath, err)
	}

	if err := certWatcher.LoadInitial(); err != nil {
		return fmt.Errorf("load initial tls cert: %w", err)
	}

	go func() {
		<-ctx.Done()
		certWatcher.Close()
		keyWatcher.Close()
	}()
	go func() {
		if err := certWatcher.Run(ctx); err != nil {
			s.log.Error(err, "cert watcher stopped")
		}
	}()
	go func() {
		if err := keyWatcher.Run(ctx); err != nil {
			s.log.Error(err, "key watcher stopped")
		}
	}()
	return nil
}

// WatchTLS is the exported entry point cmd/webhook calls before serving.
func (s *Server) WatchTLS(ctx context.Context, certPath, keyPath string) error {
	return s.watchTLS(ctx, certPath, keyPath)
}
