package conn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TLSMode selects how a Connection wraps its TCP socket.
type TLSMode int

const (
	TLSOff TLSMode = iota
	TLSSecure
	TLSInsecure
	TLSCustomCA
)

// TLSConfig mirrors ConnectionConfig's TLS settings (spec.md §3): off,
// secure (system trust store), insecure (skip verification), or a
// custom CA bundle.
type TLSConfig struct {
	Mode    TLSMode
	CABytes []byte
	// ServerName overrides the TLS ServerName (SNI) used for verification;
	// defaults to the dialed host when empty.
	ServerName string
}

// Build produces a *tls.Config for this mode, or nil when TLS is off.
// A custom-CA config with empty CABytes is rejected at construction, not
// here, per spec.md's configuration-validation invariant.
func (c TLSConfig) Build() (*tls.Config, error) {
	switch c.Mode {
	case TLSOff:
		return nil, nil
	case TLSSecure:
		return &tls.Config{ServerName: c.ServerName}, nil
	case TLSInsecure:
		return &tls.Config{ServerName: c.ServerName, InsecureSkipVerify: true}, nil
	case TLSCustomCA:
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.CABytes) {
			return nil, fmt.Errorf("conn: custom CA bundle contains no usable certificates")
		}
		return &tls.Config{ServerName: c.ServerName, RootCAs: pool}, nil
	default:
		return nil, fmt.Errorf("conn: unknown TLS mode %d", c.Mode)
	}
}
