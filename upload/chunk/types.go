// Package chunk reads and uploads single parts of a growing recording file.
// It implements the data plane of a multipart upload: read a byte range,
// checksum it, obtain a presigned URL and PUT the bytes with retry.
package chunk

import (
	"context"
)

// Part is one contiguous, acknowledged byte range of the target object.
// The ETag is the storage backend's acknowledgment tag and must be passed
// back verbatim when the upload is completed.
type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// UploadRequest describes a single chunk upload attempt.
type UploadRequest struct {
	FilePath   string
	VideoID    string
	UploadID   string
	PartNumber int
	// Offset is the absolute file position the chunk starts at.
	Offset int64
	// MaxSize caps the number of bytes read from Offset. The actual chunk
	// may be smaller when the file ends before Offset+MaxSize.
	MaxSize int64
}

// PartPresigner requests a time-limited upload URL for a single part.
type PartPresigner interface {
	PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error)
}
