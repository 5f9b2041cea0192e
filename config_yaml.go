package valkeyglide

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valkey-io/valkey-glide-sub003/internal/awsauth"
	"github.com/valkey-io/valkey-glide-sub003/internal/conn"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
)

// FileConfig is ConnectionConfig's YAML-serializable subset — the fields
// an embedding application would reasonably keep in a config file rather
// than construct in code. Observability hooks (Logger, Tracer, Meter,
// MetricsRegisterer) have no YAML representation and are wired up by the
// caller after LoadConnectionConfigYAML returns, the same way tempo's
// config.go separates file-loaded Config from runtime-only wiring.
type FileConfig struct {
	Addresses   []NodeAddress `yaml:"addresses"`
	ClusterMode bool          `yaml:"cluster_mode,omitempty"`

	TLSMode      string `yaml:"tls_mode,omitempty"`
	TLSCAFile    string `yaml:"tls_ca_file,omitempty"`
	TLSServerName string `yaml:"tls_server_name,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	IAMUsername     string `yaml:"iam_username,omitempty"`
	ClusterName     string `yaml:"iam_cluster_name,omitempty"`
	IAMService      string `yaml:"iam_service,omitempty"` // "elasticache" | "memorydb"
	IAMRegion       string `yaml:"iam_region,omitempty"`
	RefreshSeconds  int    `yaml:"iam_refresh_seconds,omitempty"`

	ReadFrom string `yaml:"read_from,omitempty"`
	ClientAZ string `yaml:"client_az,omitempty"`

	RequestTimeoutMS    int `yaml:"request_timeout_ms,omitempty"`
	ConnectionTimeoutMS int `yaml:"connection_timeout_ms,omitempty"`

	NumRetries    int     `yaml:"reconnect_num_retries,omitempty"`
	FactorMS      int     `yaml:"reconnect_factor_ms,omitempty"`
	ExponentBase  float64 `yaml:"reconnect_exponent_base,omitempty"`
	JitterPercent int     `yaml:"reconnect_jitter_percent,omitempty"`

	DBIndex    int    `yaml:"database_id,omitempty"`
	ClientName string `yaml:"client_name,omitempty"`
	UseRESP3   bool   `yaml:"use_resp3,omitempty"`

	PeriodicCheckDisabled     bool `yaml:"periodic_check_disabled,omitempty"`
	PeriodicCheckIntervalSecs int  `yaml:"periodic_check_interval_seconds,omitempty"`

	CompressionEnabled bool   `yaml:"compression_enabled,omitempty"`
	CompressionBackend string `yaml:"compression_backend,omitempty"` // "zstd" | "lz4"
	CompressionLevel   int    `yaml:"compression_level,omitempty"`
	MinCompressionSize int    `yaml:"min_compression_size,omitempty"`

	LazyConnect bool `yaml:"lazy_connect,omitempty"`
}

// LoadConnectionConfigYAML parses a FileConfig document and translates it
// into a ConnectionConfig, validating the result before returning it so
// callers never get a configuration that would fail at NewClient anyway.
func LoadConnectionConfigYAML(data []byte) (ConnectionConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return ConnectionConfig{}, wrapError(KindConfiguration, err, "parse YAML config")
	}
	cfg := fc.toConnectionConfig()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

func (fc FileConfig) toConnectionConfig() ConnectionConfig {
	cfg := ConnectionConfig{
		Addresses:   fc.Addresses,
		ClusterMode: fc.ClusterMode,
		ClientAZ:    fc.ClientAZ,
		DBIndex:     fc.DBIndex,
		ClientName:  fc.ClientName,
		LazyConnect: fc.LazyConnect,
	}

	switch fc.TLSMode {
	case "secure":
		cfg.TLS = conn.TLSConfig{Mode: conn.TLSSecure, ServerName: fc.TLSServerName}
	case "insecure":
		cfg.TLS = conn.TLSConfig{Mode: conn.TLSInsecure, ServerName: fc.TLSServerName}
	case "custom_ca":
		cfg.TLS = conn.TLSConfig{Mode: conn.TLSCustomCA, ServerName: fc.TLSServerName, CABytes: []byte(fc.TLSCAFile)}
	default:
		cfg.TLS = conn.TLSConfig{Mode: conn.TLSOff}
	}

	if fc.IAMUsername != "" {
		var service awsauth.ServiceType
		if fc.IAMService == "memorydb" {
			service = awsauth.ServiceMemoryDB
		}
		cfg.Credentials = Credentials{
			Kind:            CredentialsIAM,
			IAMUsername:     fc.IAMUsername,
			ClusterName:     fc.ClusterName,
			Service:         service,
			Region:          fc.IAMRegion,
			RefreshInterval: time.Duration(fc.RefreshSeconds) * time.Second,
		}
	} else if fc.Username != "" || fc.Password != "" {
		cfg.Credentials = Credentials{Kind: CredentialsPassword, Username: fc.Username, Password: fc.Password}
	}

	switch fc.ReadFrom {
	case "prefer_replica":
		cfg.ReadFrom = router.ReadFromPreferReplica
	case "az_affinity":
		cfg.ReadFrom = router.ReadFromAZAffinity
	case "az_affinity_replicas_and_primary":
		cfg.ReadFrom = router.ReadFromAZAffinityReplicasAndPrimary
	default:
		cfg.ReadFrom = router.ReadFromPrimary
	}

	cfg.RequestTimeout = time.Duration(fc.RequestTimeoutMS) * time.Millisecond
	cfg.ConnectionTimeout = time.Duration(fc.ConnectionTimeoutMS) * time.Millisecond

	cfg.Reconnect = ReconnectStrategy{
		NumRetries:    fc.NumRetries,
		FactorMS:      fc.FactorMS,
		ExponentBase:  fc.ExponentBase,
		JitterPercent: fc.JitterPercent,
	}

	if fc.UseRESP3 {
		cfg.Protocol = conn.RESP3
	} else {
		cfg.Protocol = conn.RESP2
	}

	cfg.PeriodicCheck = PeriodicCheckPolicy{
		Disabled: fc.PeriodicCheckDisabled,
		Interval: time.Duration(fc.PeriodicCheckIntervalSecs) * time.Second,
	}

	cfg.Compression = CompressionConfig{
		Enabled:            fc.CompressionEnabled,
		Level:              fc.CompressionLevel,
		MinCompressionSize: fc.MinCompressionSize,
	}
	if fc.CompressionBackend == "lz4" {
		cfg.Compression.Backend = CompressionLZ4
	}

	return cfg
}
