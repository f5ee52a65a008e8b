package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type sessionTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newSessionTracker(envRepo env.Repository, logger log.Logger) sessionTracker {
	p := analytics.Properties{
		"client":    "go-uploadutils",
		"device_id": envRepo.Get("SCREENCAP_DEVICE_ID"),
	}
	return sessionTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *sessionTracker) logSessionStarted() {
	t.tracker.Enqueue("upload_session_started", analytics.Properties{})
}

func (t *sessionTracker) logSessionCompleted(uploadTime time.Duration, uploadedBytes int64, partCount int) {
	properties := analytics.Properties{
		"upload_time_s":  uploadTime.Truncate(time.Second).Seconds(),
		"uploaded_bytes": uploadedBytes,
		"part_count":     partCount,
	}
	t.tracker.Enqueue("upload_session_completed", properties)
}

func (t *sessionTracker) logSessionFailed(uploadTime time.Duration, partCount int) {
	properties := analytics.Properties{
		"upload_time_s": uploadTime.Truncate(time.Second).Seconds(),
		"part_count":    partCount,
	}
	t.tracker.Enqueue("upload_session_failed", properties)
}

func (t *sessionTracker) wait() {
	t.tracker.Wait()
}
