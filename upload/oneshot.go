package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/docker/go-units"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
	"github.com/screencap-io/go-uploadutils/upload/network"
)

// OneShotUploadInput describes a whole-file upload that bypasses the
// multipart flow. It is meant for files that are already fully written,
// such as thumbnails or short clips.
type OneShotUploadInput struct {
	VideoID  string
	FilePath string
	// Subpath is the object key relative to the video's folder, for
	// example "result.mp4" or "screenshot/screen-capture.jpg".
	Subpath string
	// ContentType of the object. Default: video/mp4.
	ContentType string
	Verbose     bool
}

type putPresigner interface {
	PresignUpload(ctx context.Context, videoID, subpath string, meta *mediainfo.VideoMetadata) (string, error)
}

// UploadFile uploads a complete file in a single PUT request. The file must
// not grow while the upload is in flight.
func (u *uploader) UploadFile(ctx context.Context, input OneShotUploadInput) error {
	u.logger.TDebugf("UploadFile start")
	defer func() {
		u.logger.TDebugf("UploadFile done")
	}()

	if input.Verbose {
		u.logger.EnableDebugLog(true)
	}

	config, err := u.createConfig(ProgressiveUploadInput{
		VideoID:     input.VideoID,
		FilePath:    input.FilePath,
		ContentType: input.ContentType,
	})
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}

	var presigner putPresigner
	if custom, ok := u.remote.(putPresigner); ok {
		presigner = custom
	} else if u.remote == nil {
		presigner = network.NewAPIClient(nil, string(config.APIBaseURL), string(config.AccessToken), u.logger)
	} else {
		return fmt.Errorf("remote service does not support single-request uploads")
	}

	var meta *mediainfo.VideoMetadata
	if u.prober != nil {
		meta, err = u.prober.Probe(config.FilePath)
		if err != nil {
			u.logger.Warnf("Failed to read video metadata: %s", err)
		}
	}

	url, err := presigner.PresignUpload(ctx, config.VideoID, input.Subpath, meta)
	if err != nil {
		if errors.Is(err, network.ErrUnauthorized) {
			u.notifier.OnAuthInvalidated()
		}
		return fmt.Errorf("failed to presign upload: %w", err)
	}

	startTime := time.Now()
	size, err := putFile(ctx, url, config.FilePath, config.ContentType, u.logger)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", input.Subpath, err)
	}

	u.logger.Donef("Uploaded %s in %s",
		units.HumanSizeWithPrecision(float64(size), 3), time.Since(startTime).Round(time.Second))
	return nil
}

func putFile(ctx context.Context, url, path, contentType string, logger logProgress) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	body := &progressReader{
		reader: file,
		total:  size,
		logger: logger,
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Content-Type", contentType)
	request.ContentLength = size

	response, err := chunk.DefaultHTTPClient().Do(request)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return 0, fmt.Errorf("HTTP %d: %s", response.StatusCode, errorBody)
	}

	return size, nil
}

type logProgress interface {
	Debugf(format string, v ...interface{})
}

// progressReader logs upload progress at roughly 10% steps.
type progressReader struct {
	reader   io.Reader
	total    int64
	read     int64
	lastStep int
	logger   logProgress
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)

	if r.total > 0 {
		step := int(r.read * 10 / r.total)
		if step > r.lastStep {
			r.lastStep = step
			r.logger.Debugf("Upload progress: %d%%", step*10)
		}
	}

	return n, err
}
