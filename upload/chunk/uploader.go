package chunk

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ErrNoData is returned when the requested offset is at or past the end of
// the file, so there is nothing to upload.
var ErrNoData = errors.New("no more data to read: offset is at end of file")

// Uploader uploads single chunks: read, checksum, presign, PUT with bounded
// retry, acknowledgment tag extraction. It holds no session state; the
// caller owns part numbering and offsets and applies the returned Part only
// after success.
type Uploader struct {
	config     Config
	presigner  PartPresigner
	httpClient *http.Client
	logger     log.Logger
	stats      *Stats
}

// NewUploader creates a chunk uploader. Zero-valued Config fields fall back
// to the defaults.
func NewUploader(presigner PartPresigner, config Config, logger log.Logger) *Uploader {
	defaults := DefaultConfig()
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryWait == 0 {
		config.RetryWait = defaults.RetryWait
	}
	if config.PutTimeout == 0 {
		config.PutTimeout = defaults.PutTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		config:     config,
		presigner:  presigner,
		httpClient: httpClient,
		logger:     logger,
		stats:      NewStats(),
	}
}

// UploadChunk uploads a single chunk described by req and returns the
// acknowledged Part. The presign call is single-attempt; only the PUT itself
// is retried.
func (u *Uploader) UploadChunk(ctx context.Context, req UploadRequest) (Part, error) {
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return Part{}, fmt.Errorf("stat file: %w", err)
	}
	fileSize := info.Size()

	if req.Offset >= fileSize {
		return Part{}, ErrNoData
	}

	bytesToRead := req.MaxSize
	if remaining := fileSize - req.Offset; remaining < bytesToRead {
		bytesToRead = remaining
	}

	data, err := ReadRange(req.FilePath, req.Offset, bytesToRead)
	if err != nil {
		return Part{}, err
	}
	if len(data) == 0 {
		return Part{}, fmt.Errorf("read zero bytes for part %d at offset %d", req.PartNumber, req.Offset)
	}
	if int64(len(data)) < bytesToRead {
		u.logger.Warnf("Short read for part %d: wanted %d bytes, got %d", req.PartNumber, bytesToRead, len(data))
	}

	digest := md5.Sum(data)
	md5Sum := base64.StdEncoding.EncodeToString(digest[:])

	u.logger.Debugf("Uploading part %d (%s) at offset %d, MD5: %s",
		req.PartNumber, units.HumanSizeWithPrecision(float64(len(data)), 3), req.Offset, md5Sum)

	presignedURL, err := u.presigner.PresignPart(ctx, req.VideoID, req.UploadID, req.PartNumber, md5Sum)
	if err != nil {
		return Part{}, fmt.Errorf("presign part %d: %w", req.PartNumber, err)
	}
	if presignedURL == "" {
		return Part{}, fmt.Errorf("empty presigned URL for part %d", req.PartNumber)
	}

	etag, err := u.putWithRetry(ctx, presignedURL, data, md5Sum, req.PartNumber)
	if err != nil {
		return Part{}, err
	}

	return Part{
		PartNumber: req.PartNumber,
		ETag:       etag,
		Size:       int64(len(data)),
	}, nil
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

func (u *Uploader) putWithRetry(ctx context.Context, url string, data []byte, md5Sum string, partNumber int) (string, error) {
	var etag string
	start := time.Now()

	err := retry.Times(uint(u.config.MaxAttempts - 1)).Wait(u.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return fmt.Errorf("part %d upload cancelled: %w", partNumber, ctx.Err()), true
		}

		u.logger.Debugf("Sending part %d (attempt %d/%d): %d bytes", partNumber, attempt+1, u.config.MaxAttempts, len(data))

		tag, err := u.put(ctx, url, data, md5Sum)
		if err != nil {
			u.logger.Warnf("Part %d attempt %d failed: %s", partNumber, attempt+1, err)
			return err, false
		}

		etag = tag
		return nil, false
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d failed after %d attempts: %w", partNumber, u.config.MaxAttempts, err)
	}

	took := time.Since(start)
	u.stats.Update(took, int64(len(data)))
	u.logger.Debugf("Part %d uploaded in %v (avg %v, %s/s), ETag: %s",
		partNumber, took.Round(time.Millisecond), u.stats.Average().Round(time.Millisecond),
		units.HumanSizeWithPrecision(u.stats.Rate(), 3), etag)

	return etag, nil
}

func (u *Uploader) put(ctx context.Context, url string, data []byte, md5Sum string) (string, error) {
	putCtx, cancel := context.WithTimeout(ctx, u.config.PutTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(putCtx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-MD5", md5Sum)
	req.ContentLength = int64(len(data))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(errorBody[:n]))
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("no ETag in response")
	}

	return strings.Trim(etag, `"`), nil
}
