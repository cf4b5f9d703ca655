// Package tts turns narration text into assembled speech. It contains the
// HTTP client for the speech provider, the retrying chunk scheduler and the
// engine that ties normalization, chunking, synthesis and assembly into one
// pipeline.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	headerRetryAfter    = "Retry-After"

	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeStream = "application/octet-stream"
)

// Error messages.
const (
	errTextCannotBeEmpty     = "text cannot be empty"
	errUnexpectedContentType = "unexpected content type %q"
	errEmptyAudioURL         = "provider response carried no audio_url"
)

// streamReadSize is the buffer size used when draining chunked audio
// responses.
const streamReadSize = 32 * 1024

// SpeechRequest defines the JSON payload for a single synthesis call.
type SpeechRequest struct {
	// Text contains the chunk text to convert to speech. Must be
	// non-empty.
	Text string `json:"text"`

	// Voice optionally selects a provider voice. The provider default is
	// used when empty.
	Voice string `json:"voice,omitempty"`

	// AudioReferenceURL optionally points at a speaker reference clip for
	// voice cloning.
	AudioReferenceURL string `json:"audio_reference_url,omitempty"`

	// Exaggeration controls expressiveness, from 0.0 (flat) to 1.0
	// (maximal).
	Exaggeration float64 `json:"exaggeration"`
}

// speechErrorResponse is the provider's structured error body.
type speechErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// audioReference is the JSON success body used when the provider stores the
// audio and returns a URL instead of inline bytes.
type audioReference struct {
	AudioURL string `json:"audio_url"`
}

// HTTPClient talks to the speech provider over HTTP. It accepts inline WAV
// responses, chunked binary streams and JSON bodies referencing a stored
// audio object, and classifies failures into ProviderError values.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	credentials CredentialSource
}

// NewHTTPClient creates a client for the provider at baseURL. The timeout
// applies to every request. A nil credentials source falls back to reading
// DefaultAPIKeyEnv from the environment.
func NewHTTPClient(
	baseURL string,
	timeout time.Duration,
	credentials CredentialSource,
) *HTTPClient {
	if credentials == nil {
		credentials = NewEnvCredentialSource("")
	}

	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
	}
}

// Synthesize sends one chunk to the provider and returns the raw WAV bytes.
// Failures carry a *ProviderError in their chain when the provider answered
// with a non-success status; an auth failure also invalidates the cached
// credentials so the next attempt re-resolves them.
func (c *HTTPClient) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New(errTextCannotBeEmpty)
	}

	requestBody, err := encodeJSON(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	err = c.authorize(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to speech provider at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyFailure(resp)
	}

	audioData, err := c.readAudioResponse(ctx, resp)
	if err != nil {
		return nil, err
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the speech provider is running and responding.
// It should be called before processing large workloads to fail fast when
// the provider is down.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiHealth,
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for provider at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// authorize attaches a bearer token when the credential source yields one.
func (c *HTTPClient) authorize(ctx context.Context, req *http.Request) error {
	creds, err := c.credentials.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve provider credentials: %w", err)
	}

	if creds.APIKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+creds.APIKey)
	}

	return nil
}

// readAudioResponse dispatches on the response content type. The provider
// answers with inline WAV bytes, a chunked octet stream, or a JSON body
// referencing a stored object.
func (c *HTTPClient) readAudioResponse(
	ctx context.Context,
	resp *http.Response,
) ([]byte, error) {
	contentType := resp.Header.Get(headerContentType)

	switch {
	case strings.HasPrefix(contentType, contentTypeWAV):
		return readInlineAudio(resp.Body)
	case strings.HasPrefix(contentType, contentTypeStream):
		return drainAudioStream(resp.Body)
	case strings.HasPrefix(contentType, contentTypeJSON):
		return c.fetchReferencedAudio(ctx, resp.Body)
	default:
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}
}

func readInlineAudio(body io.Reader) ([]byte, error) {
	audioData, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	return audioData, nil
}

// drainAudioStream reads a chunked binary response to completion. The
// provider flushes audio in segments, so reads are accumulated until EOF.
func drainAudioStream(body io.Reader) ([]byte, error) {
	var audioData []byte

	buffer := make([]byte, streamReadSize)

	for {
		n, err := body.Read(buffer)
		if n > 0 {
			audioData = append(audioData, buffer[:n]...)
		}

		if errors.Is(err, io.EOF) {
			return audioData, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to drain audio stream: %w", err)
		}
	}
}

// fetchReferencedAudio resolves a JSON success body to audio bytes by
// downloading the referenced object.
func (c *HTTPClient) fetchReferencedAudio(
	ctx context.Context,
	body io.Reader,
) ([]byte, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	var ref audioReference

	err = parseJSON(payload, &ref)
	if err != nil {
		return nil, err
	}

	if ref.AudioURL == "" {
		return nil, errors.New(errEmptyAudioURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.AudioURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio from %s: %w", ref.AudioURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyFailure(resp)
	}

	return readInlineAudio(resp.Body)
}

// classifyFailure turns a non-success provider response into a
// ProviderError. Structured JSON errors are preferred; the raw body is kept
// as the message when the provider returned something else.
func (c *HTTPClient) classifyFailure(resp *http.Response) error {
	providerErr := &ProviderError{
		StatusCode: resp.StatusCode,
		Code:       "",
		Message:    "",
		RetryAfter: 0,
	}

	body, err := io.ReadAll(resp.Body)
	if err == nil {
		var errorResp speechErrorResponse

		parseErr := parseJSON(body, &errorResp)
		if parseErr == nil && errorResp.Detail != "" {
			providerErr.Code = errorResp.ErrorCode
			providerErr.Message = errorResp.Detail
		} else {
			providerErr.Message = strings.TrimSpace(string(body))
		}
	}

	if providerErr.Message == "" {
		providerErr.Message = resp.Status
	}

	if providerErr.RateLimited() {
		providerErr.RetryAfter = parseRetryAfter(resp.Header.Get(headerRetryAfter))
	}

	if providerErr.AuthFailure() {
		c.credentials.Invalidate()
	}

	return providerErr
}

// parseRetryAfter reads the delay-seconds form of the Retry-After header.
// Malformed or absent values yield zero and the configured backoff applies.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
