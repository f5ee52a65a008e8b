// Package network talks to the remote upload service: the control plane of
// a multipart upload (initiate, presign-part, complete) and the presigned
// single-file PUT used for already complete media.
package network

import (
	"context"
	"errors"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
)

// ErrUnauthorized is returned when the remote service rejects the access
// token. It is never retried; the caller must obtain fresh credentials.
var ErrUnauthorized = errors.New("authentication expired, please log in again")

// RemoteService is the control plane of one multipart upload. Every call is
// single-attempt: a failure here is a protocol fault and ends the session.
type RemoteService interface {
	// Initiate starts a multipart upload and returns its upload ID.
	Initiate(ctx context.Context, videoID, contentType string) (string, error)

	// PresignPart returns a presigned URL authorizing the upload of one part
	// with the given base64-encoded MD5 checksum.
	PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error)

	// Complete assembles the acknowledged parts into the final object.
	// meta may be nil when media metadata could not be probed.
	// The returned location may be empty even on success.
	Complete(ctx context.Context, videoID, uploadID string, parts []chunk.Part, meta *mediainfo.VideoMetadata) (string, error)
}
