package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/conversation-service/internal/tts/audio"
	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

const (
	defaultGeminiSpeechModel = "gemini-2.5-flash-preview-tts"
	modalityAudio            = "AUDIO"
)

// Static errors.
var (
	ErrAPIKeyEmpty         = errors.New("api key cannot be empty")
	ErrUnsupportedEncoding = errors.New("gemini speech only produces LINEAR16 audio")
)

// GeminiSpeechConfig holds the connection settings for GeminiSpeech.
type GeminiSpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiSpeech synthesizes speech with a Gemini TTS model and returns WAV audio.
type GeminiSpeech struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

// NewGeminiSpeech creates a Gemini speech client.
func NewGeminiSpeech(ctx context.Context, cfg GeminiSpeechConfig, log *logger.Logger) (*GeminiSpeech, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyEmpty
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimSpace(cfg.BaseURL),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini speech client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiSpeechModel
	}

	return &GeminiSpeech{client: client, model: model, log: log}, nil
}

// SynthesizeSpeech implements core.SpeechSynthesizer.
func (g *GeminiSpeech) SynthesizeSpeech(ctx context.Context, text string, opts core.SpeechOptions) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextEmpty
	}

	if opts.Voice == "" {
		return nil, ErrVoiceEmpty
	}

	if opts.AudioEncoding != "" && opts.AudioEncoding != core.AudioEncodingLinear16 {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedEncoding, opts.AudioEncoding)
	}

	generateConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{modalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
			LanguageCode: opts.LanguageCode,
		},
	}

	start := time.Now()

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(text), generateConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini speech call failed for model %s: %w", g.model, err)
	}

	pcm, mimeType := collectInlineAudio(response)
	if len(pcm) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	wav, err := audio.EncodeWAV(pcm, audio.QualityFromMIME(mimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap gemini pcm: %w", err)
	}

	g.log.Info("Gemini synthesized %d bytes with voice %s in %s", len(wav), opts.Voice, time.Since(start))

	return wav, nil
}

func collectInlineAudio(response *genai.GenerateContentResponse) ([]byte, string) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, ""
	}

	var (
		pcm      []byte
		mimeType string
	)

	for _, part := range response.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}

		if mimeType == "" {
			mimeType = part.InlineData.MIMEType
		}

		pcm = append(pcm, part.InlineData.Data...)
	}

	return pcm, mimeType
}
