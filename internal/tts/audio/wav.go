// Package audio wraps raw PCM produced by speech engines into playable containers.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Defaults for the PCM stream returned by the Gemini speech models.
const (
	DefaultSampleRate = 24000
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

const (
	wavHeaderSize = 44
	pcmFormatTag  = 1
	bitsPerByte   = 8
)

// Error message formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtFrameAlignment  = "%w: %d bytes is not a multiple of the %d-byte frame"
)

// Common errors for the audio package.
var (
	ErrInvalidQuality = errors.New("invalid quality settings")
	ErrEmptyPCM       = errors.New("pcm data is empty")
)

// Quality describes an uncompressed PCM stream.
type Quality struct {
	SampleRate int `json:"sampleRate"`
	BitDepth   int `json:"bitDepth"`
	Channels   int `json:"channels"`
}

// NewDefaultQuality returns 24 kHz, 16-bit mono.
func NewDefaultQuality() Quality {
	return Quality{
		SampleRate: DefaultSampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
	}
}

// Validate checks if quality settings are within reasonable bounds.
func (q Quality) Validate() error {
	sampleRateErr := validateSampleRate(q.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(q.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(q.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

// FrameSize is the number of bytes holding one sample for every channel.
func (q Quality) FrameSize() int {
	return q.Channels * q.BitDepth / bitsPerByte
}

// QualityFromMIME reads the sample rate from a mime type such as
// "audio/L16;codec=pcm;rate=24000". Missing parameters keep their defaults.
func QualityFromMIME(mimeType string) Quality {
	quality := NewDefaultQuality()

	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return quality
	}

	if rate, convErr := strconv.Atoi(params["rate"]); convErr == nil && rate > 0 {
		quality.SampleRate = rate
	}

	if channels, convErr := strconv.Atoi(params["channels"]); convErr == nil && channels > 0 {
		quality.Channels = channels
	}

	if strings.EqualFold(mediaType, "audio/l8") {
		quality.BitDepth = BitDepth8
	}

	return quality
}

// EncodeWAV prepends a canonical RIFF/WAVE header to little-endian PCM.
func EncodeWAV(pcm []byte, quality Quality) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPCM
	}

	err := quality.Validate()
	if err != nil {
		return nil, err
	}

	frameSize := quality.FrameSize()
	if len(pcm)%frameSize != 0 {
		return nil, fmt.Errorf(errFmtFrameAlignment, ErrInvalidQuality, len(pcm), frameSize)
	}

	byteRate := quality.SampleRate * frameSize

	var buf bytes.Buffer

	buf.Grow(wavHeaderSize + len(pcm))
	buf.WriteString("RIFF")
	writeLE(&buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeLE(&buf, uint32(16))
	writeLE(&buf, uint16(pcmFormatTag))
	writeLE(&buf, uint16(quality.Channels))
	writeLE(&buf, uint32(quality.SampleRate))
	writeLE(&buf, uint32(byteRate))
	writeLE(&buf, uint16(frameSize))
	writeLE(&buf, uint16(quality.BitDepth))
	buf.WriteString("data")
	writeLE(&buf, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

func writeLE(buf *bytes.Buffer, value any) {
	// bytes.Buffer writes never fail.
	_ = binary.Write(buf, binary.LittleEndian, value)
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels)
	}

	return nil
}
