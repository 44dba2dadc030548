// Package core defines the core business types and interfaces for the conversation service.
package core

import "context"

// ArtifactStore defines the interface for interacting with the durable object store.
// Any returned error means the operation did not happen.
type ArtifactStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// TextOptions holds the generation parameters for a single text model call.
type TextOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// TextGenerator defines the interface for an external text generation model.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error)
}

// AudioEncoding names the container/codec requested from a speech engine.
type AudioEncoding string

// Supported audio encodings.
const (
	AudioEncodingMP3      AudioEncoding = "MP3"
	AudioEncodingLinear16 AudioEncoding = "LINEAR16"
	AudioEncodingOggOpus  AudioEncoding = "OGG_OPUS"
)

// Extension returns the file extension used when persisting audio in this encoding.
func (e AudioEncoding) Extension() string {
	switch e {
	case AudioEncodingLinear16:
		return "wav"
	case AudioEncodingOggOpus:
		return "ogg"
	case AudioEncodingMP3:
		return "mp3"
	default:
		return "mp3"
	}
}

// ContentType returns the MIME type of audio in this encoding.
func (e AudioEncoding) ContentType() string {
	switch e {
	case AudioEncodingLinear16:
		return "audio/wav"
	case AudioEncodingOggOpus:
		return "audio/ogg"
	case AudioEncodingMP3:
		return "audio/mpeg"
	default:
		return "audio/mpeg"
	}
}

// SpeechOptions holds the parameters for a single speech synthesis call.
type SpeechOptions struct {
	Voice         string
	LanguageCode  string
	AudioEncoding AudioEncoding
}

// SpeechSynthesizer defines the interface for a text-to-speech engine.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string, opts SpeechOptions) ([]byte, error)
}
