package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/screencap-io/go-uploadutils/upload/chunk"
	"github.com/screencap-io/go-uploadutils/upload/mediainfo"
)

type initiateRequest struct {
	VideoID     string `json:"videoId"`
	ContentType string `json:"contentType"`
}

type initiateResponse struct {
	UploadID string `json:"uploadId"`
}

type presignPartRequest struct {
	VideoID    string `json:"videoId"`
	UploadID   string `json:"uploadId"`
	PartNumber int    `json:"partNumber"`
	MD5Sum     string `json:"md5Sum"`
}

type presignPartResponse struct {
	PresignedURL string `json:"presignedUrl"`
}

type completeRequest struct {
	VideoID    string       `json:"videoId"`
	UploadID   string       `json:"uploadId"`
	Parts      []chunk.Part `json:"parts"`
	Duration   string       `json:"duration,omitempty"`
	Bandwidth  string       `json:"bandwidth,omitempty"`
	Resolution string       `json:"resolution,omitempty"`
	VideoCodec string       `json:"videoCodec,omitempty"`
	AudioCodec string       `json:"audioCodec,omitempty"`
	Framerate  string       `json:"framerate,omitempty"`
}

type completeResponse struct {
	Location string `json:"location"`
}

type presignUploadRequest struct {
	VideoID    string `json:"videoId"`
	Subpath    string `json:"subpath"`
	Method     string `json:"method"`
	Duration   string `json:"duration,omitempty"`
	Bandwidth  string `json:"bandwidth,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
	Framerate  string `json:"framerate,omitempty"`
}

type presignUploadResponse struct {
	PresignedPutData struct {
		URL string `json:"url"`
	} `json:"presignedPutData"`
}

// APIClient is the HTTP implementation of RemoteService, talking to the
// upload API with bearer-token authentication.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient creates a RemoteService backed by the upload API at baseURL.
// `client` can be nil, unless you want to provide a custom HTTP client.
// Control-plane calls are single-attempt, so transport-level retries are
// disabled on the client.
func NewAPIClient(client *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *APIClient {
	if client == nil {
		client = retryhttp.NewClient(logger)
	}
	client.RetryMax = 0
	// Hand back the final response instead of a "giving up" error, so
	// status handling below sees what the service actually returned.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &APIClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// Initiate starts a multipart upload for the video.
func (c *APIClient) Initiate(ctx context.Context, videoID, contentType string) (string, error) {
	var response initiateResponse
	err := c.postJSON(ctx, "/api/upload/multipart/initiate", initiateRequest{
		VideoID:     videoID,
		ContentType: contentType,
	}, &response)
	if err != nil {
		return "", err
	}

	if response.UploadID == "" {
		return "", fmt.Errorf("empty uploadId returned from initiate endpoint")
	}

	return response.UploadID, nil
}

// PresignPart requests a presigned URL for a single part upload.
func (c *APIClient) PresignPart(ctx context.Context, videoID, uploadID string, partNumber int, md5Sum string) (string, error) {
	var response presignPartResponse
	err := c.postJSON(ctx, "/api/upload/multipart/presign-part", presignPartRequest{
		VideoID:    videoID,
		UploadID:   uploadID,
		PartNumber: partNumber,
		MD5Sum:     md5Sum,
	}, &response)
	if err != nil {
		return "", err
	}

	return response.PresignedURL, nil
}

// Complete assembles the acknowledged parts into the final object.
func (c *APIClient) Complete(ctx context.Context, videoID, uploadID string, parts []chunk.Part, meta *mediainfo.VideoMetadata) (string, error) {
	request := completeRequest{
		VideoID:  videoID,
		UploadID: uploadID,
		Parts:    parts,
	}
	if meta != nil {
		request.Duration = meta.Duration
		request.Bandwidth = meta.Bandwidth
		request.Resolution = meta.Resolution
		request.VideoCodec = meta.VideoCodec
		request.AudioCodec = meta.AudioCodec
		request.Framerate = meta.Framerate
	}

	var response completeResponse
	if err := c.postJSON(ctx, "/api/upload/multipart/complete", request, &response); err != nil {
		return "", err
	}

	return response.Location, nil
}

// PresignUpload requests a presigned PUT URL for uploading a whole file in a
// single request, outside the multipart flow. meta may be nil.
func (c *APIClient) PresignUpload(ctx context.Context, videoID, subpath string, meta *mediainfo.VideoMetadata) (string, error) {
	request := presignUploadRequest{
		VideoID: videoID,
		Subpath: subpath,
		Method:  "put",
	}
	if meta != nil {
		request.Duration = meta.Duration
		request.Bandwidth = meta.Bandwidth
		request.Resolution = meta.Resolution
		request.VideoCodec = meta.VideoCodec
		request.AudioCodec = meta.AudioCodec
		request.Framerate = meta.Framerate
	}

	var response presignUploadResponse
	err := c.postJSON(ctx, "/api/upload/signed", request, &response)
	if err != nil {
		return "", err
	}

	if response.PresignedPutData.URL == "" {
		return "", fmt.Errorf("empty presigned URL returned for %s", subpath)
	}

	return response.PresignedPutData.URL, nil
}

func (c *APIClient) postJSON(ctx context.Context, path string, requestBody interface{}, out interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response of %s: %w", path, err)
	}

	return nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
