package upload

import (
	"sync"
)

// RecordingState is the observed state of the realtime pipeline producing
// the recording file.
type RecordingState int

const (
	// NoRealtimeSource means no realtime pipeline exists for this file: any
	// available data can be uploaded immediately, regardless of chunk size.
	NoRealtimeSource RecordingState = iota
	// RecordingPending means the pipeline is still producing data.
	RecordingPending
	// RecordingDone means the pipeline finished successfully, including the
	// final header rewrite of the container.
	RecordingDone
	// RecordingFailed means the pipeline failed; the upload must abort.
	RecordingFailed
)

// String ...
func (s RecordingState) String() string {
	switch s {
	case NoRealtimeSource:
		return "no-realtime-source"
	case RecordingPending:
		return "pending"
	case RecordingDone:
		return "done"
	case RecordingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecordingSignal is a one-shot completion signal shared between the
// recording pipeline and the upload session. Sampling never blocks and is
// safe from multiple readers; Finish and Fail transition the signal exactly
// once, after which it is terminal.
//
// A nil *RecordingSignal always samples as NoRealtimeSource.
type RecordingSignal struct {
	mu    sync.Mutex
	state RecordingState
	err   error
}

// NewRecordingSignal creates a signal in the RecordingPending state.
func NewRecordingSignal() *RecordingSignal {
	return &RecordingSignal{state: RecordingPending}
}

// Finish marks the recording as successfully completed.
// It has no effect once the signal is terminal.
func (s *RecordingSignal) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == RecordingPending {
		s.state = RecordingDone
	}
}

// Fail marks the recording as failed with the given cause.
// It has no effect once the signal is terminal.
func (s *RecordingSignal) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == RecordingPending {
		s.state = RecordingFailed
		s.err = err
	}
}

// Sample returns the current state without blocking. The error is non-nil
// only for RecordingFailed.
func (s *RecordingSignal) Sample() (RecordingState, error) {
	if s == nil {
		return NoRealtimeSource, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}
