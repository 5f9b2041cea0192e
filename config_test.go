package valkeyglide

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valkey-io/valkey-glide-sub003/internal/conn"
	"github.com/valkey-io/valkey-glide-sub003/internal/reconnect"
	"github.com/valkey-io/valkey-glide-sub003/internal/router"
)

func baseConfig() ConnectionConfig {
	return ConnectionConfig{
		Addresses: []NodeAddress{{Host: "127.0.0.1", Port: 6379}},
	}
}

func TestValidateRequiresAtLeastOneAddress(t *testing.T) {
	cfg := baseConfig()
	cfg.Addresses = nil
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errIs(err, KindConfiguration))
}

func TestValidateRejectsMixedCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.Credentials = Credentials{Kind: CredentialsPassword, IAMUsername: "iam-user"}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRequiresClientAZForAZAffinity(t *testing.T) {
	cfg := baseConfig()
	cfg.ReadFrom = router.ReadFromAZAffinity
	err := cfg.Validate()
	require.Error(t, err)

	cfg.ClientAZ = "use1-az1"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresClientAZForAZAffinityReplicasAndPrimary(t *testing.T) {
	cfg := baseConfig()
	cfg.ReadFrom = router.ReadFromAZAffinityReplicasAndPrimary
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresRESP3ForPubSub(t *testing.T) {
	cfg := baseConfig()
	cfg.PubSubSubscriptions = []PubSubSubscription{{Channel: "news"}}
	cfg.Protocol = conn.RESP2
	require.Error(t, cfg.Validate())

	cfg.Protocol = conn.RESP3
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeCompressionLevel(t *testing.T) {
	cfg := baseConfig()
	cfg.Compression = CompressionConfig{Enabled: true, Backend: CompressionZSTD, Level: 999}
	require.Error(t, cfg.Validate())

	cfg.Compression.Level = 3
	require.NoError(t, cfg.Validate())

	cfg.Compression.Backend = CompressionLZ4
	cfg.Compression.Level = -129
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMinCompressionSizeBelowFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.Compression = CompressionConfig{Enabled: true, MinCompressionSize: 10}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresNonemptyCustomCA(t *testing.T) {
	cfg := baseConfig()
	cfg.TLS = conn.TLSConfig{Mode: conn.TLSCustomCA}
	require.Error(t, cfg.Validate())

	cfg.TLS.CABytes = []byte("-----BEGIN CERTIFICATE-----")
	require.NoError(t, cfg.Validate())
}

func TestValidateAllowsInsecureTLS(t *testing.T) {
	cfg := baseConfig()
	cfg.TLS = conn.TLSConfig{Mode: conn.TLSInsecure}
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaultsFillsDocumentedDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.ClusterMode = true
	cfg.applyDefaults()

	require.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	require.Equal(t, 2000*time.Millisecond, cfg.ConnectionTimeout)
	require.Equal(t, reconnect.DefaultStrategy, cfg.Reconnect)
	require.Equal(t, 1000, cfg.InflightCap)
	require.Equal(t, DefaultPeriodicCheckInterval, cfg.PeriodicCheck.Interval)
}

func TestApplyDefaultsIAMCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.Credentials = Credentials{Kind: CredentialsIAM}
	cfg.applyDefaults()
	require.Equal(t, 300*time.Second, cfg.Credentials.RefreshInterval)
}

func TestApplyDefaultsPasswordUsername(t *testing.T) {
	cfg := baseConfig()
	cfg.Credentials = Credentials{Kind: CredentialsPassword}
	cfg.applyDefaults()
	require.Equal(t, "default", cfg.Credentials.Username)
}

func TestApplyDefaultsCompressionMinSize(t *testing.T) {
	cfg := baseConfig()
	cfg.Compression = CompressionConfig{Enabled: true}
	cfg.applyDefaults()
	require.Equal(t, 64, cfg.Compression.MinCompressionSize)
}

func TestApplyDefaultsDisabledPeriodicCheckStaysZero(t *testing.T) {
	cfg := baseConfig()
	cfg.ClusterMode = true
	cfg.PeriodicCheck.Disabled = true
	cfg.applyDefaults()
	require.Zero(t, cfg.PeriodicCheck.Interval)
}

// errIs checks a *Error's Kind directly, without going through errors.Is.
func errIs(err error, kind Kind) bool {
	verr, ok := err.(*Error)
	return ok && verr.Kind == kind
}
