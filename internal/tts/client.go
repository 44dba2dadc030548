// Package tts provides speech synthesis adapters implementing core.SpeechSynthesizer.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/bytedance/sonic"
)

// API endpoints and paths.
const (
	apiSynthesizeSpeech = "/v1/text:synthesize"
	apiHealth           = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Default values.
const (
	defaultLanguageCode = "cmn-CN"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "%w: expected %s, got %s"
	errFmtServiceErrorWithCode  = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "TTS service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty             = errors.New("text cannot be empty")
	ErrVoiceEmpty            = errors.New("voice cannot be empty")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrReceivedEmptyAudio    = errors.New("received empty audio data")
)

// HTTPClient represents a client for a standalone TTS HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// Request defines the JSON payload of a synthesis request.
type Request struct {
	// Text contains the utterance to synthesize.
	Text string `json:"text"`

	// Voice names the engine voice, e.g. "cmn-CN-Standard-A".
	Voice string `json:"voice"`

	// LanguageCode is a BCP-47 code. Defaults to "cmn-CN".
	LanguageCode string `json:"languageCode"`

	// AudioEncoding selects the returned container. Defaults to MP3.
	AudioEncoding core.AudioEncoding `json:"audioEncoding"`
}

// ErrorResponse represents a structured error response from the TTS service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates and configures an HTTP client for the TTS service.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SynthesizeSpeech implements core.SpeechSynthesizer.
func (c *HTTPClient) SynthesizeSpeech(ctx context.Context, text string, opts core.SpeechOptions) ([]byte, error) {
	return c.GenerateSpeech(ctx, Request{
		Text:          text,
		Voice:         opts.Voice,
		LanguageCode:  opts.LanguageCode,
		AudioEncoding: opts.AudioEncoding,
	})
}

// GenerateSpeech sends a synthesis request and returns the raw audio data in the
// requested encoding.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	if req.Voice == "" {
		return nil, ErrVoiceEmpty
	}

	if req.LanguageCode == "" {
		req.LanguageCode = defaultLanguageCode
	}

	if req.AudioEncoding == "" {
		req.AudioEncoding = core.AudioEncodingMP3
	}

	requestBody, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesizeSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	expectedType := req.AudioEncoding.ContentType()
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, expectedType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to TTS service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	mediaType, _, parseErr := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if parseErr != nil || mediaType != expectedType {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, ErrUnexpectedContentType, expectedType, resp.Header.Get(headerContentType))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is running and operational.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
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

// parseErrorResponse attempts to decode a structured JSON error from the service,
// falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := sonic.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		string(body),
	)
}
