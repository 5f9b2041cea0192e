package valkeyglide

import (
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/valkey-io/valkey-glide-sub003/internal/awsauth"
	"github.com/valkey-io/valkey-glide-sub003/internal/compressor"
	"github.com/valkey-io/valkey-glide-sub003/internal/conn"
	"github.com/valkey-io/valkey-glide-sub003/internal/reconnect"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
)

// NodeAddress is a host+port pair naming a seed or standalone server.
type NodeAddress struct {
	Host string
	Port int
}

// CredentialsKind distinguishes the two mutually exclusive credential
// variants spec.md §3 names.
type CredentialsKind int

const (
	CredentialsNone CredentialsKind = iota
	CredentialsPassword
	CredentialsIAM
)

// Credentials is exactly one of the Password or IAM variants; Kind says
// which fields are meaningful.
type Credentials struct {
	Kind CredentialsKind

	// Password variant.
	Username string // default "default"
	Password string

	// IAM variant.
	IAMUsername      string
	ClusterName      string
	Service          awsauth.ServiceType
	Region           string
	RefreshInterval  time.Duration // default 300s
	IAMAccessKeyID   string
	IAMSecretKey     string
}

// CompressionConfig mirrors ConnectionConfig's compression settings.
type CompressionConfig struct {
	Enabled            bool
	Backend            CompressionBackendKind
	Level              int
	MinCompressionSize int // default 64, floor 64
}

// CompressionBackendKind selects ZSTD or LZ4 for the write path.
type CompressionBackendKind int

const (
	CompressionZSTD CompressionBackendKind = iota
	CompressionLZ4
)

// ReconnectStrategy mirrors ConnectionConfig's reconnect strategy
// fields, reused directly as internal/reconnect.Strategy.
type ReconnectStrategy = reconnect.Strategy

// PeriodicCheckPolicy controls the topology manager's background
// refresh cadence (cluster only).
type PeriodicCheckPolicy struct {
	Disabled bool
	Interval time.Duration // zero means "use the default"
}

// DefaultPeriodicCheckInterval matches spec.md's cluster default.
const DefaultPeriodicCheckInterval = 30 * time.Second

// ConnectionConfig is the immutable value assembled once at client
// creation (spec.md §3). Zero-value fields take the documented
// defaults during Validate/applyDefaults.
type ConnectionConfig struct {
	Addresses []NodeAddress
	ClusterMode bool

	TLS conn.TLSConfig

	Credentials Credentials

	ReadFrom router.ReadFrom
	ClientAZ string

	RequestTimeout    time.Duration // default 250ms
	ConnectionTimeout time.Duration // default 2000ms

	Reconnect ReconnectStrategy

	DBIndex    int // standalone only
	ClientName string
	Protocol   conn.ProtocolVersion
	InflightCap int

	PubSubSubscriptions []PubSubSubscription
	PeriodicCheck       PeriodicCheckPolicy

	Compression CompressionConfig

	LazyConnect bool

	// Observability hooks, all optional.
	Logger             log.Logger
	MetricsRegisterer  prometheus.Registerer
	Tracer             trace.Tracer
	Meter              metric.Meter
	TraceSamplePercent int
}

// PubSubSubscription is one subscription declared at client creation
// time, per spec.md §3.
type PubSubSubscription struct {
	Mode    int // mirrors pubsub.Mode without importing the package here
	Channel string
}

// applyDefaults fills unset fields with spec.md's documented defaults.
func (c *ConnectionConfig) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 250 * time.Millisecond
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 2000 * time.Millisecond
	}
	if c.Reconnect == (ReconnectStrategy{}) {
		c.Reconnect = reconnect.DefaultStrategy
	}
	if c.InflightCap == 0 {
		c.InflightCap = 1000
	}
	if c.Credentials.Kind == CredentialsIAM && c.Credentials.RefreshInterval == 0 {
		c.Credentials.RefreshInterval = 300 * time.Second
	}
	if c.Credentials.Kind == CredentialsPassword && c.Credentials.Username == "" {
		c.Credentials.Username = "default"
	}
	if c.Compression.Enabled && c.Compression.MinCompressionSize == 0 {
		c.Compression.MinCompressionSize = 64
	}
	if c.ClusterMode && !c.PeriodicCheck.Disabled && c.PeriodicCheck.Interval == 0 {
		c.PeriodicCheck.Interval = DefaultPeriodicCheckInterval
	}
}

// Validate checks every invariant spec.md §4.12 lists. It is called by
// NewClient before any network I/O, so configuration mistakes never
// reach the wire.
func (c *ConnectionConfig) Validate() error {
	if len(c.Addresses) == 0 {
		return newError(KindConfiguration, "at least one address is required")
	}

	if c.Credentials.Kind == CredentialsPassword && c.Credentials.IAMUsername != "" {
		return newError(KindConfiguration, "password and IAM credentials may not both be set")
	}

	if c.ReadFrom == router.ReadFromAZAffinity || c.ReadFrom == router.ReadFromAZAffinityReplicasAndPrimary {
		if c.ClientAZ == "" {
			return newError(KindConfiguration, "client_az is required when read_from is an AZ-affinity policy")
		}
	}

	if len(c.PubSubSubscriptions) > 0 && c.Protocol != conn.RESP3 {
		return newError(KindConfiguration, "PubSub subscriptions require RESP3")
	}

	if c.Compression.Enabled {
		var err error
		switch c.Compression.Backend {
		case CompressionZSTD:
			err = compressor.ValidateZSTDLevel(c.Compression.Level)
		case CompressionLZ4:
			err = compressor.ValidateLZ4Level(c.Compression.Level)
		}
		if err != nil {
			return wrapError(KindConfiguration, err, "invalid compression level")
		}
		if c.Compression.MinCompressionSize != 0 && c.Compression.MinCompressionSize < 64 {
			return newError(KindConfiguration, "min_compression_size may not be set below 64")
		}
	}

	if c.TLS.Mode == conn.TLSCustomCA && len(c.TLS.CABytes) == 0 {
		return newError(KindConfiguration, "custom CA bytes must be nonempty")
	}
	if c.TLS.Mode == conn.TLSInsecure {
		// insecure implies TLS is conceptually enabled; nothing further to
		// check here since TLSInsecure already selects a TLS dial path.
	}

	return nil
}
