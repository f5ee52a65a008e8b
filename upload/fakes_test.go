package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type completeCall struct {
	videoID  string
	uploadID string
	parts    []chunk.Part
	meta     *mediainfo.VideoMetadata
}

type fakeRemote struct {
	mu sync.Mutex

	uploadID    string
	initiateErr error
	presignURL  string
	presignErr  error
	location    string
	completeErr error

	initiateCalls int
	presignCalls  int
	completeCalls []completeCall
}

func (r *fakeRemote) Initiate(ctx context.Context, videoID, contentType string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiateCalls++
	if r.initiateErr != nil {
		return "", r.initiateErr
	}
	return r.uploadID, nil
}

func (r *fakeRemote) PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presignCalls++
	if r.presignErr != nil {
		return "", r.presignErr
	}
	return r.presignURL, nil
}

func (r *fakeRemote) Complete(ctx context.Context, videoID, uploadID string, parts []chunk.Part, meta *mediainfo.VideoMetadata) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	partsCopy := make([]chunk.Part, len(parts))
	copy(partsCopy, parts)
	r.completeCalls = append(r.completeCalls, completeCall{
		videoID:  videoID,
		uploadID: uploadID,
		parts:    partsCopy,
		meta:     meta,
	})
	if r.completeErr != nil {
		return "", r.completeErr
	}
	return r.location, nil
}

func (r *fakeRemote) completed() []completeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completeCalls
}

// fakeChunkUploader acknowledges every chunk with a fabricated ETag and the
// requested size. It can fail the first failures calls, a single call picked
// by its 1-based index, or every call when err is set.
type fakeChunkUploader struct {
	mu sync.Mutex

	failures int
	failCall int
	err      error
	requests []chunk.UploadRequest
}

func (u *fakeChunkUploader) UploadChunk(ctx context.Context, req chunk.UploadRequest) (chunk.Part, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)

	if u.err != nil {
		return chunk.Part{}, u.err
	}
	if u.failures > 0 {
		u.failures--
		return chunk.Part{}, fmt.Errorf("simulated upload failure")
	}
	if u.failCall == len(u.requests) {
		return chunk.Part{}, fmt.Errorf("simulated upload failure")
	}

	return chunk.Part{
		PartNumber: req.PartNumber,
		ETag:       fmt.Sprintf("etag-%d-%d", req.PartNumber, len(u.requests)),
		Size:       req.MaxSize,
	}, nil
}

func (u *fakeChunkUploader) recorded() []chunk.UploadRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	requests := make([]chunk.UploadRequest, len(u.requests))
	copy(requests, u.requests)
	return requests
}

type fakeProber struct {
	meta *mediainfo.VideoMetadata
	err  error
}

func (p *fakeProber) Probe(path string) (*mediainfo.VideoMetadata, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.meta, nil
}

type fakeNotifier struct {
	mu sync.Mutex

	completedLinks  []string
	authInvalidated int
}

func (n *fakeNotifier) OnUploadComplete(link string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completedLinks = append(n.completedLinks, link)
}

func (n *fakeNotifier) OnAuthInvalidated() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authInvalidated++
}
