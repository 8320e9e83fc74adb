// Package rtmpssl wires up the hot-reloading TLS certificate the RTMPS
// listener serves, so renewing the certificate on disk doesn't require
// restarting the relay.
package rtmpssl

import (
	"crypto/tls"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"

	"github.com/nova-stream/rtmprelay/internal/logging"
)

const checkReloadSeconds = 60

// Loader wraps the certificate loader.
type Loader struct {
	inner *certloader.CertificateLoader
}

// New loads certPath/keyPath for the first time and starts the loader's
// own background goroutine that reloads them whenever their mtimes change.
func New(certPath, keyPath string, log *logging.Logger) (*Loader, error) {
	inner, err := certloader.NewCertificateLoader(certPath, keyPath, checkReloadSeconds)
	if err != nil {
		return nil, err
	}

	log.Info("Loaded SSL certificates from " + certPath)

	return &Loader{inner: inner}, nil
}

// GetCertificateFunc returns the callback to plug into tls.Config.GetCertificate.
func (l *Loader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return l.inner.GetCertificateFunc()
}
