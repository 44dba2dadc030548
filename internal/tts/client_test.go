package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants.
const (
	testUtterance                 = "你好，你今天怎么样？"
	testVoice                     = "cmn-CN-Standard-A"
	testMP3Payload                = "ID3\x04fake-mp3-frames"
	testErrMsgInvalidVoice        = "Invalid voice name"
	testErrCodeInvalidVoice       = "INVALID_VOICE"
	testErrExpectedSynthesizePath = "Expected /v1/text:synthesize path, got %s"
	testErrFailedToDecodeRequest  = "Failed to decode request: %v"
)

func TestHTTPClient_SynthesizeSpeech_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				if request.Method != http.MethodPost {
					t.Errorf("Expected POST request, got %s", request.Method)
				}

				if request.URL.Path != apiSynthesizeSpeech {
					t.Errorf(testErrExpectedSynthesizePath, request.URL.Path)
				}

				if request.Header.Get(headerContentType) != contentTypeJSON {
					t.Error("Expected application/json content type")
				}

				if request.Header.Get(headerAccept) != "audio/mpeg" {
					t.Errorf("Expected audio/mpeg accept type, got %s", request.Header.Get(headerAccept))
				}

				var req Request

				err := sonic.ConfigDefault.NewDecoder(request.Body).Decode(&req)
				if err != nil {
					t.Errorf(testErrFailedToDecodeRequest, err)
				}

				if req.Text != testUtterance {
					t.Errorf("Expected %q, got %q", testUtterance, req.Text)
				}

				if req.LanguageCode != defaultLanguageCode {
					t.Errorf("Expected default language, got %q", req.LanguageCode)
				}

				responseWriter.Header().Set(headerContentType, "audio/mpeg")
				responseWriter.WriteHeader(http.StatusOK)
				_, _ = responseWriter.Write([]byte(testMP3Payload))
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	audioData, err := client.SynthesizeSpeech(context.Background(), testUtterance, core.SpeechOptions{
		Voice:         testVoice,
		LanguageCode:  "",
		AudioEncoding: core.AudioEncodingMP3,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(testMP3Payload), audioData)
}

func TestHTTPClient_GenerateSpeech_DefaultsEncoding(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				var req Request

				err := sonic.ConfigDefault.NewDecoder(request.Body).Decode(&req)
				if err != nil {
					t.Errorf(testErrFailedToDecodeRequest, err)
				}

				if req.AudioEncoding != core.AudioEncodingMP3 {
					t.Errorf("Expected MP3 encoding, got %q", req.AudioEncoding)
				}

				responseWriter.Header().Set(headerContentType, "audio/mpeg; charset=binary")
				_, _ = responseWriter.Write([]byte(testMP3Payload))
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", 5*time.Second)

	audioData, err := client.GenerateSpeech(context.Background(), Request{
		Text:          testUtterance,
		Voice:         testVoice,
		LanguageCode:  "cmn-CN",
		AudioEncoding: "",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, audioData)
}

func TestHTTPClient_GenerateSpeech_Validation(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: "   ", Voice: testVoice, LanguageCode: "", AudioEncoding: "",
	})
	require.ErrorIs(t, err, ErrTextEmpty)

	_, err = client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: "", LanguageCode: "", AudioEncoding: "",
	})
	require.ErrorIs(t, err, ErrVoiceEmpty)
}

func TestHTTPClient_GenerateSpeech_ErrorResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, _ *http.Request) {
				responseWriter.Header().Set(headerContentType, contentTypeJSON)
				responseWriter.WriteHeader(http.StatusBadRequest)

				_ = sonic.ConfigDefault.NewEncoder(responseWriter).Encode(ErrorResponse{
					Detail:    testErrMsgInvalidVoice,
					ErrorCode: testErrCodeInvalidVoice,
				})
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: "nope", LanguageCode: "", AudioEncoding: "",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), testErrMsgInvalidVoice)
	assert.Contains(t, err.Error(), testErrCodeInvalidVoice)
}

func TestHTTPClient_GenerateSpeech_RawErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, _ *http.Request) {
				responseWriter.WriteHeader(http.StatusBadGateway)
				_, _ = responseWriter.Write([]byte("upstream exploded"))
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: testVoice, LanguageCode: "", AudioEncoding: "",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHTTPClient_GenerateSpeech_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, _ *http.Request) {
				responseWriter.Header().Set(headerContentType, "text/plain")
				_, _ = responseWriter.Write([]byte("not audio"))
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: testVoice, LanguageCode: "", AudioEncoding: core.AudioEncodingLinear16,
	})
	require.ErrorIs(t, err, ErrUnexpectedContentType)
}

func TestHTTPClient_GenerateSpeech_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, _ *http.Request) {
				responseWriter.Header().Set(headerContentType, "audio/ogg")
				responseWriter.WriteHeader(http.StatusOK)
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: testVoice, LanguageCode: "", AudioEncoding: core.AudioEncodingOggOpus,
	})
	require.ErrorIs(t, err, ErrReceivedEmptyAudio)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				if request.URL.Path != apiHealth {
					t.Errorf("Expected /health path, got %s", request.URL.Path)
				}

				if request.Method != http.MethodGet {
					t.Errorf("Expected GET request, got %s", request.Method)
				}

				responseWriter.WriteHeader(http.StatusOK)
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestHTTPClient_HealthCheck_Unreachable(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient("http://127.0.0.1:1", time.Second)
	require.Error(t, client.HealthCheck(context.Background()))
}

func TestHTTPClient_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	server := httptest.NewServer(
		http.HandlerFunc(
			func(_ http.ResponseWriter, request *http.Request) {
				select {
				case <-release:
				case <-request.Context().Done():
				}
			},
		),
	)
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(server.URL, 50*time.Millisecond)

	_, err := client.GenerateSpeech(context.Background(), Request{
		Text: testUtterance, Voice: testVoice, LanguageCode: "", AudioEncoding: "",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to send request"))
}

func TestHTTPClient_RequestWireFormat(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				var body map[string]any

				err := sonic.ConfigDefault.NewDecoder(request.Body).Decode(&body)
				if err != nil {
					t.Errorf(testErrFailedToDecodeRequest, err)
				}

				bodies <- body

				responseWriter.Header().Set(headerContentType, "audio/wav")
				_, _ = responseWriter.Write([]byte("RIFF"))
			},
		),
	)
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.SynthesizeSpeech(context.Background(), testUtterance, core.SpeechOptions{
		Voice:         testVoice,
		LanguageCode:  "cmn-TW",
		AudioEncoding: core.AudioEncodingLinear16,
	})
	require.NoError(t, err)

	body := <-bodies
	assert.Equal(t, map[string]any{
		"text":          testUtterance,
		"voice":         testVoice,
		"languageCode":  "cmn-TW",
		"audioEncoding": "LINEAR16",
	}, body)
}
