package chunk

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	url   string
	err   error
	calls int32

	lastPartNumber int
	lastMD5Sum     string
}

func (p *fakePresigner) PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	p.lastPartNumber = partNumber
	p.lastMD5Sum = md5Sum
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryWait:   10 * time.Millisecond,
		PutTimeout:  5 * time.Second,
	}
}

func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.mp4")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestUploadChunk_Success(t *testing.T) {
	content := []byte("some recording data")
	digest := md5.Sum(content)
	wantMD5 := base64.StdEncoding.EncodeToString(digest[:])

	var gotMD5 string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMD5 = r.Header.Get("Content-MD5")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	presigner := &fakePresigner{url: server.URL}
	uploader := NewUploader(presigner, testConfig(), log.NewLogger())

	part, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, content),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, part.PartNumber)
	assert.Equal(t, "etag-1", part.ETag, "surrounding quotes should be stripped")
	assert.Equal(t, int64(len(content)), part.Size)
	assert.Equal(t, wantMD5, gotMD5)
	assert.Equal(t, wantMD5, presigner.lastMD5Sum)
	assert.Equal(t, content, gotBody)
	assert.Equal(t, int64(1), uploader.Stats().FinishedCount())
	assert.Equal(t, int64(len(content)), uploader.Stats().UploadedBytes())
}

func TestUploadChunk_MaxSizeLimitsRead(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := NewUploader(&fakePresigner{url: server.URL}, testConfig(), log.NewLogger())

	part, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("0123456789")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 2,
		Offset:     2,
		MaxSize:    4,
	})

	require.NoError(t, err)
	assert.Equal(t, "2345", string(gotBody))
	assert.Equal(t, int64(4), part.Size)
}

func TestUploadChunk_OffsetAtEndOfFile(t *testing.T) {
	uploader := NewUploader(&fakePresigner{url: "http://unused"}, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 2,
		Offset:     4,
		MaxSize:    ChunkSize,
	})

	assert.ErrorIs(t, err, ErrNoData)
}

func TestUploadChunk_RetriesFlakyPut(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&requestCount, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "temporary error")
			return
		}
		w.Header().Set("ETag", `"success-etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	presigner := &fakePresigner{url: server.URL}
	uploader := NewUploader(presigner, testConfig(), log.NewLogger())

	part, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.NoError(t, err)
	assert.Equal(t, "success-etag", part.ETag)
	assert.EqualValues(t, 3, requestCount, "expected 2 failures + 1 success")
	assert.EqualValues(t, 1, presigner.calls, "presigning is single-attempt per chunk")
}

func TestUploadChunk_FailsAfterMaxAttempts(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	uploader := NewUploader(&fakePresigner{url: server.URL}, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 4,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, requestCount)
}

func TestUploadChunk_MissingETagIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := NewUploader(&fakePresigner{url: server.URL}, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ETag")
}

func TestUploadChunk_PresignFailureIsNotRetried(t *testing.T) {
	presigner := &fakePresigner{err: fmt.Errorf("presign exploded")}
	uploader := NewUploader(presigner, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign part 1")
	assert.EqualValues(t, 1, presigner.calls)
}

func TestUploadChunk_EmptyPresignedURL(t *testing.T) {
	uploader := NewUploader(&fakePresigner{url: ""}, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(context.Background(), UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty presigned URL")
}

func TestUploadChunk_ContextCancellationAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uploader := NewUploader(&fakePresigner{url: server.URL}, testConfig(), log.NewLogger())

	_, err := uploader.UploadChunk(ctx, UploadRequest{
		FilePath:   writeTestFile(t, []byte("data")),
		VideoID:    "video-1",
		UploadID:   "upload-1",
		PartNumber: 1,
		Offset:     0,
		MaxSize:    ChunkSize,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
