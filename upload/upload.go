// Package upload implements progressive multipart uploads of screen
// recordings: chunks of a file that is still being written are shipped to
// remote storage as they appear, and the remote object is finalized once
// the recording ends.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
	"github.com/screencap-io/go-uploadutils/upload/network"
)

// ProgressiveUploadInput is the information callers provide for uploading
// one in-progress recording.
type ProgressiveUploadInput struct {
	VideoID  string
	FilePath string
	// ContentType of the final object. Default: video/mp4.
	ContentType string
	// ShareLink is the user-facing link of the video; it is handed to the
	// Notifier once the upload completes.
	ShareLink string
	// Signal reports completion of the realtime pipeline writing the file.
	// nil means there is no realtime pipeline and all data on disk is final.
	Signal  *RecordingSignal
	Verbose bool
}

// Result describes one finalized upload.
type Result struct {
	VideoID       string
	UploadID      string
	Link          string
	Parts         int
	BytesUploaded int64
}

// Uploader ...
type Uploader interface {
	Upload(ctx context.Context, input ProgressiveUploadInput) (*Result, error)
}

type uploader struct {
	envRepo  env.Repository
	logger   log.Logger
	remote   network.RemoteService
	prober   mediainfo.Prober
	notifier Notifier
}

// NewUploader creates a new progressive uploader instance. `remote`,
// `prober` and `notifier` can be nil, unless you want to provide custom
// implementations.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	remote network.RemoteService,
	prober mediainfo.Prober,
	notifier Notifier,
) *uploader {
	if prober == nil {
		prober = mediainfo.NewFFProbe(command.NewFactory(envRepo), logger)
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &uploader{
		envRepo:  envRepo,
		logger:   logger,
		remote:   remote,
		prober:   prober,
		notifier: notifier,
	}
}

type progressiveUploadConfig struct {
	VideoID     string
	FilePath    string
	ContentType string
	APIBaseURL  stepconf.Secret
	AccessToken stepconf.Secret
}

// Upload runs one progressive upload session to completion. It blocks until
// the remote object is finalized or the session fails; spawn it via Start
// when the recording is still running.
func (u *uploader) Upload(ctx context.Context, input ProgressiveUploadInput) (*Result, error) {
	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()

	if input.Verbose {
		u.logger.EnableDebugLog(true)
	}

	config, err := u.createConfig(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inputs: %w", err)
	}

	tracker := newSessionTracker(u.envRepo, u.logger)
	defer tracker.wait()

	remote := u.remote
	if remote == nil {
		remote = network.NewAPIClient(nil, string(config.APIBaseURL), string(config.AccessToken), u.logger)
	}

	chunks := chunk.NewUploader(remote, chunk.Config{}, u.logger)

	session := NewSession(SessionConfig{
		VideoID:     config.VideoID,
		FilePath:    config.FilePath,
		ContentType: config.ContentType,
	}, remote, chunks, input.Signal, u.prober, u.logger)

	tracker.logSessionStarted()
	startTime := time.Now()

	if err := session.Run(ctx); err != nil {
		if errors.Is(err, network.ErrUnauthorized) {
			u.notifier.OnAuthInvalidated()
		}
		tracker.logSessionFailed(time.Since(startTime), session.PartCount())
		return nil, fmt.Errorf("progressive upload failed: %w", err)
	}

	uploadTime := time.Since(startTime).Round(time.Second)
	u.logger.Donef("Uploaded %s in %d parts in %s",
		units.HumanSizeWithPrecision(float64(session.BytesUploaded()), 3), session.PartCount(), uploadTime)
	tracker.logSessionCompleted(uploadTime, session.BytesUploaded(), session.PartCount())

	u.notifier.OnUploadComplete(input.ShareLink)

	return &Result{
		VideoID:       config.VideoID,
		UploadID:      session.UploadID(),
		Link:          input.ShareLink,
		Parts:         session.PartCount(),
		BytesUploaded: session.BytesUploaded(),
	}, nil
}

// Handle is a running progressive upload session spawned by Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Start runs Upload on a dedicated goroutine, so the caller can keep
// recording while bytes are shipped in the background.
func (u *uploader) Start(ctx context.Context, input ProgressiveUploadInput) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(handle.done)
		handle.result, handle.err = u.Upload(ctx, input)
	}()

	return handle
}

// Wait blocks until the session reaches its terminal state.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.result, h.err
}

// Cancel aborts the session. Wait still returns the terminal result.
func (h *Handle) Cancel() {
	h.cancel()
}

func (u *uploader) createConfig(input ProgressiveUploadInput) (progressiveUploadConfig, error) {
	if strings.TrimSpace(input.VideoID) == "" {
		return progressiveUploadConfig{}, fmt.Errorf("video ID should not be empty")
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return progressiveUploadConfig{}, fmt.Errorf("file path should not be empty")
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	config := progressiveUploadConfig{
		VideoID:     input.VideoID,
		FilePath:    input.FilePath,
		ContentType: contentType,
	}

	// A custom RemoteService brings its own endpoint and credentials.
	if u.remote != nil {
		return config, nil
	}

	apiBaseURL := u.envRepo.Get("SCREENCAP_API_BASE_URL")
	if apiBaseURL == "" {
		return progressiveUploadConfig{}, fmt.Errorf("the secret 'SCREENCAP_API_BASE_URL' is not defined")
	}
	accessToken := u.envRepo.Get("SCREENCAP_ACCESS_TOKEN")
	if accessToken == "" {
		return progressiveUploadConfig{}, fmt.Errorf("the secret 'SCREENCAP_ACCESS_TOKEN' is not defined")
	}

	config.APIBaseURL = stepconf.Secret(apiBaseURL)
	config.AccessToken = stepconf.Secret(accessToken)
	return config, nil
}
