package chunk

import (
	"net/http"
	"time"

	"github.com/docker/go-units"
)

// ChunkSize is the minimum viable size of a non-final part for the storage
// backend, and the upload granularity of the progressive upload loop.
const ChunkSize int64 = 5 * units.MiB

// Config holds configuration for the chunk uploader.
type Config struct {
	// MaxAttempts is the total number of PUT attempts per chunk.
	// Default: 3
	MaxAttempts int

	// RetryWait is the fixed delay between PUT attempts.
	// Default: 2 seconds
	RetryWait time.Duration

	// PutTimeout bounds a single PUT attempt.
	// Default: 120 seconds
	PutTimeout time.Duration

	// HTTPClient is the client used for the presigned PUT requests.
	// If nil, a default client is created.
	HTTPClient *http.Client
}

// DefaultConfig returns the default chunk upload configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryWait:   2 * time.Second,
		PutTimeout:  120 * time.Second,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for chunk PUTs.
// The per-attempt deadline is enforced via request contexts, not here.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     4,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
