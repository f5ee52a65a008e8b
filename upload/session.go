package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
	"github.com/screencap-io/go-uploadutils/upload/network"
)

// ErrNoParts is returned when a session reaches finalization without a
// single uploaded part.
var ErrNoParts = errors.New("no parts uploaded before finalizing")

// ErrRecordingFailed is returned when the realtime pipeline reports failure.
// It marks an upstream fault, not a fault of the upload itself.
var ErrRecordingFailed = errors.New("recording pipeline failed")

// ErrFileGone is returned when the recording file disappears mid-session.
var ErrFileGone = errors.New("file no longer exists")

// chunkUploader is the subset of chunk.Uploader the session needs.
type chunkUploader interface {
	UploadChunk(ctx context.Context, req chunk.UploadRequest) (chunk.Part, error)
}

// SessionConfig describes one progressive upload session.
type SessionConfig struct {
	VideoID     string
	FilePath    string
	ContentType string

	// PollInterval is the sleep between loop iterations when there is no new
	// data or a chunk upload failed. Default: 1 second.
	PollInterval time.Duration
	// StatRetryWait is the sleep after a transient file metadata read
	// failure. Default: 500 milliseconds.
	StatRetryWait time.Duration
}

// Session drives one progressive multipart upload: it polls the growing
// file, uploads chunks sequentially, and finalizes the remote object when
// the recording ends. All counters are owned exclusively by the Run loop;
// chunks are strictly sequential.
type Session struct {
	config SessionConfig
	remote network.RemoteService
	chunks chunkUploader
	signal *RecordingSignal
	prober mediainfo.Prober
	logger log.Logger

	uploadID             string
	parts                []chunk.Part
	nextPartNumber       int
	lastUploadedPosition int64
}

// NewSession ...
func NewSession(
	config SessionConfig,
	remote network.RemoteService,
	chunks chunkUploader,
	signal *RecordingSignal,
	prober mediainfo.Prober,
	logger log.Logger,
) *Session {
	if config.ContentType == "" {
		config.ContentType = "video/mp4"
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.StatRetryWait == 0 {
		config.StatRetryWait = 500 * time.Millisecond
	}

	return &Session{
		config:         config,
		remote:         remote,
		chunks:         chunks,
		signal:         signal,
		prober:         prober,
		logger:         logger,
		nextPartNumber: 1,
	}
}

// UploadID returns the remote upload identifier, once Run has initiated.
func (s *Session) UploadID() string {
	return s.uploadID
}

// PartCount returns the number of acknowledged parts.
func (s *Session) PartCount() int {
	return len(s.parts)
}

// BytesUploaded returns the byte offset covered by acknowledged parts.
func (s *Session) BytesUploaded() int64 {
	return s.lastUploadedPosition
}

// Run executes the session until the remote object is finalized or a fatal
// error occurs. It blocks; use it from a dedicated goroutine when the
// recording is still in progress. Cancelling ctx aborts the session.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Infof("Initiating multipart upload for %s...", s.config.VideoID)

	uploadID, err := s.remote.Initiate(ctx, s.config.VideoID, s.config.ContentType)
	if err != nil {
		return fmt.Errorf("initiate multipart upload: %w", err)
	}
	s.uploadID = uploadID
	s.logger.Infof("Multipart upload initiated with ID: %s", uploadID)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload cancelled: %w", err)
		}

		state, sigErr := s.signal.Sample()
		if state == RecordingFailed {
			if sigErr != nil {
				return fmt.Errorf("%w: %s", ErrRecordingFailed, sigErr)
			}
			return ErrRecordingFailed
		}

		fileSize, err := s.fileSize()
		if err != nil {
			if errors.Is(err, ErrFileGone) {
				return err
			}
			s.logger.Warnf("Failed to get file metadata: %s", err)
			s.sleep(ctx, s.config.StatRetryWait)
			continue
		}

		newDataSize := fileSize - s.lastUploadedPosition

		switch {
		case newDataSize >= chunk.ChunkSize ||
			(newDataSize > 0 && state == RecordingDone) ||
			(newDataSize > 0 && state == NoRealtimeSource):
			if err := s.uploadNextChunk(ctx, newDataSize); err != nil {
				// Expired credentials stay expired; retrying the same
				// presign would loop forever.
				if errors.Is(err, network.ErrUnauthorized) {
					return err
				}
				s.logger.Warnf("Error uploading chunk (part %d): %s. Retrying in %v...",
					s.nextPartNumber, err, s.config.PollInterval)
				s.sleep(ctx, s.config.PollInterval)
			}

		case newDataSize == 0 && state != RecordingPending:
			return s.finalize(ctx, state)

		default:
			s.sleep(ctx, s.config.PollInterval)
		}
	}
}

// uploadNextChunk uploads one chunk at the current position and advances the
// session counters. Nothing is advanced on failure, so the next attempt
// retries the identical offset with the identical part number.
func (s *Session) uploadNextChunk(ctx context.Context, newDataSize int64) error {
	maxSize := newDataSize
	if maxSize > chunk.ChunkSize {
		maxSize = chunk.ChunkSize
	}

	part, err := s.chunks.UploadChunk(ctx, chunk.UploadRequest{
		FilePath:   s.config.FilePath,
		VideoID:    s.config.VideoID,
		UploadID:   s.uploadID,
		PartNumber: s.nextPartNumber,
		Offset:     s.lastUploadedPosition,
		MaxSize:    maxSize,
	})
	if err != nil {
		return err
	}

	s.parts = append(s.parts, part)
	s.lastUploadedPosition += part.Size
	s.nextPartNumber++

	s.logger.Debugf("Part %d acknowledged, %s uploaded so far",
		part.PartNumber, units.HumanSizeWithPrecision(float64(s.lastUploadedPosition), 3))

	return nil
}

// finalize re-uploads the first chunk after a finished recording (container
// headers are rewritten when the writer closes the file), then completes the
// multipart upload with the accumulated part list.
func (s *Session) finalize(ctx context.Context, state RecordingState) error {
	if len(s.parts) == 0 {
		return ErrNoParts
	}

	if state == RecordingDone {
		s.logger.Infof("Recording finished, re-uploading first chunk")

		// The replacement covers exactly the originally recorded range of
		// part 1; position and part counter stay untouched.
		part, err := s.chunks.UploadChunk(ctx, chunk.UploadRequest{
			FilePath:   s.config.FilePath,
			VideoID:    s.config.VideoID,
			UploadID:   s.uploadID,
			PartNumber: 1,
			Offset:     0,
			MaxSize:    s.parts[0].Size,
		})
		if err != nil {
			return fmt.Errorf("re-upload first chunk: %w", err)
		}
		s.parts[0] = part
		s.logger.Donef("Successfully re-uploaded first chunk")
	}

	s.logger.Infof("Completing multipart upload with %d parts", len(s.parts))

	var meta *mediainfo.VideoMetadata
	if s.prober != nil {
		probed, err := s.prober.Probe(s.config.FilePath)
		if err != nil {
			s.logger.Warnf("Failed to get video metadata: %s", err)
		} else {
			meta = probed
		}
	}

	location, err := s.remote.Complete(ctx, s.config.VideoID, s.uploadID, s.parts, meta)
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}

	if location != "" {
		s.logger.Infof("Multipart upload complete. Final location: %s", location)
	} else {
		s.logger.Debugf("Multipart upload complete. No location in response.")
	}

	return nil
}

func (s *Session) fileSize() (int64, error) {
	info, err := os.Stat(s.config.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrFileGone
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
