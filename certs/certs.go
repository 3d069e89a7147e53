// Package certs manages the TLS material of the proxy: fixed-path key
// pair discovery under the data root and a registry that hands the
// current certificate to the TLS listener, hot-swappable on reload so
// renewed certificates are picked up without restarting.
package certs

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

var errNoCertificate = errors.New("no certificate loaded")

// Paths are the fixed locations of the TLS key pair, typically
// symlinks into a certbot live directory.
type Paths struct {
	Key   string
	Chain string
}

// DefaultPaths returns the certificate locations under the data root.
func DefaultPaths(dataRoot string) Paths {
	return Paths{
		Key:   filepath.Join(dataRoot, "certs", "privkey.pem"),
		Chain: filepath.Join(dataRoot, "certs", "fullchain.pem"),
	}
}

// Exist reports whether both halves of the key pair are present.
func (p Paths) Exist() bool {
	for _, path := range []string{p.Key, p.Chain} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}

	return true
}

// Registry holds the currently loaded certificate behind a mutex.
type Registry struct {
	paths Paths

	mx   sync.Mutex
	cert *tls.Certificate
}

// NewRegistry loads the key pair from the given paths.
func NewRegistry(p Paths) (*Registry, error) {
	r := &Registry{paths: p}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the key pair from disk, replacing the served
// certificate. The previous certificate stays active when reloading
// fails.
func (r *Registry) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.paths.Chain, r.paths.Key)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}

	r.mx.Lock()
	r.cert = &cert
	r.mx.Unlock()

	log.Infof("loaded certificate from %s", r.paths.Chain)
	return nil
}

// GetCertificate resolves the certificate for a TLS handshake. It is
// plugged into tls.Config.
func (r *Registry) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.cert == nil {
		return nil, errNoCertificate
	}

	return r.cert, nil
}
