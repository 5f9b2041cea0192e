// Package awsauth builds the SigV4-presigned IAM auth token used as the
// AUTH password when Credentials.IAM is configured (spec.md §3, §4.2
// [EXPANDED]). Grounded on aws-sdk-go-v2's presigned-URL pattern, a
// teacher (tempo) dependency also used for Tempo's S3 backend auth (see
// DESIGN.md).
package awsauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// ServiceType selects the managed Valkey/Redis host naming scheme.
type ServiceType int

const (
	ServiceElastiCache ServiceType = iota
	ServiceMemoryDB
)

// TokenRequest carries everything needed to build one presigned IAM
// auth token (spec.md §3's IAM credential variant).
type TokenRequest struct {
	Username    string
	ClusterName string
	Service     ServiceType
	Region      string
	// AccessKeyID, SecretAccessKey and SessionToken are the static key
	// pair GenerateToken signs with; no other credential source (such as
	// the default credential chain) is consulted.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (r TokenRequest) host() string {
	switch r.Service {
	case ServiceMemoryDB:
		return fmt.Sprintf("%s.%s.memorydb.amazonaws.com", r.ClusterName, r.Region)
	default:
		return fmt.Sprintf("%s.cache.amazonaws.com", r.ClusterName)
	}
}

func (r TokenRequest) serviceName() string {
	if r.Service == ServiceMemoryDB {
		return "memorydb"
	}
	return "elasticache"
}

// GenerateToken builds a SigV4-presigned GET request against the
// cluster's endpoint and returns the presigned URL with its scheme
// stripped — the shape managed Valkey/Redis IAM auth expects as an AUTH
// password.
func GenerateToken(ctx context.Context, req TokenRequest) (string, error) {
	creds := credentials.NewStaticCredentialsProvider(req.AccessKeyID, req.SecretAccessKey, req.SessionToken)
	value, err := creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("awsauth: retrieve credentials: %w", err)
	}

	host := req.host()
	reqURL := &url.URL{
		Scheme: "https",
		Host:   host,
		Path:   "/",
		RawQuery: url.Values{
			"Action": {"connect"},
			"User":   {req.Username},
		}.Encode(),
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("awsauth: build request: %w", err)
	}

	signer := v4.NewSigner()
	presignedURL, _, err := signer.PresignHTTP(ctx, value, httpReq, emptyBodyHash, req.serviceName(), req.Region, time.Now())
	if err != nil {
		return "", fmt.Errorf("awsauth: sign request: %w", err)
	}

	return strings.TrimPrefix(strings.TrimPrefix(presignedURL, "https://"), "http://"), nil
}

// emptyBodyHash is the SHA-256 hash of an empty payload, required by
// SigV4 for a bodyless GET.
const emptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
