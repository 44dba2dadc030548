package cache

import (
	"context"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/conversation-service/internal/keys"
	"github.com/book-expert/logger"
)

// Wrapper names, used as metric labels.
const (
	ConversationCacheName = "conversation_text"
	SpeechCacheName       = "tts"
)

const (
	conversationKeyPrefix = "conversation:text:"
	speechKeyPrefix       = "tts:"
)

// ConversationGenerator is the operation set wrapped by CachedConversations.
type ConversationGenerator interface {
	GenerateText(ctx context.Context, req core.TextRequest) (*core.Conversation, error)
	GenerateTurnAudio(ctx context.Context, req core.AudioRequest) (*core.TurnAudio, error)
}

// ConversationKey returns the hot cache key of a conversation. It depends on the
// word id only so keys stay stable across generator versions.
func ConversationKey(wordID string) string {
	return conversationKeyPrefix + wordID
}

// SpeechKey returns the hot cache key of synthesized audio. The encoding's
// extension is part of the key so differently configured replicas never share bytes.
func SpeechKey(text, voice string, encoding core.AudioEncoding) string {
	return speechKeyPrefix + keys.SpeechCacheKey(text, voice) + "." + encoding.Extension()
}

// CachedConversations puts the hot cache in front of conversation generation.
type CachedConversations struct {
	next    ConversationGenerator
	wrapper *Wrapper[core.TextRequest, *core.Conversation]
}

// NewCachedConversations wraps next.
func NewCachedConversations(
	next ConversationGenerator,
	hotCache *HotCache,
	cfg WrapperConfig,
	log *logger.Logger,
) *CachedConversations {
	if cfg.Name == "" {
		cfg.Name = ConversationCacheName
	}

	return &CachedConversations{
		next: next,
		wrapper: NewWrapper(
			hotCache,
			cfg,
			func(req core.TextRequest) string { return ConversationKey(req.WordID) },
			Codec[*core.Conversation](JSONCodec[*core.Conversation]{}),
			log,
		),
	}
}

// GenerateText returns the conversation for req and whether it came from the hot cache.
func (c *CachedConversations) GenerateText(ctx context.Context, req core.TextRequest) (*core.Conversation, bool, error) {
	return c.wrapper.Do(ctx, req, c.next.GenerateText)
}

// GenerateTurnAudio delegates to the wrapped generator. A freshly linked turn makes
// the hot copy of its conversation stale, so that entry is dropped.
func (c *CachedConversations) GenerateTurnAudio(ctx context.Context, req core.AudioRequest) (*core.TurnAudio, error) {
	result, err := c.next.GenerateTurnAudio(ctx, req)
	if err != nil {
		return nil, err
	}

	if !result.Cached {
		c.wrapper.Invalidate(ctx, core.TextRequest{WordID: req.WordID, Word: "", GeneratorVersion: ""})
	}

	return result, nil
}

// Lookup returns the hot-cached conversations for wordIDs, keyed by word id.
// It never generates.
func (c *CachedConversations) Lookup(ctx context.Context, wordIDs []string) map[string]*core.Conversation {
	requests := make([]core.TextRequest, len(wordIDs))
	byKey := make(map[string]string, len(wordIDs))

	for i, wordID := range wordIDs {
		requests[i] = core.TextRequest{WordID: wordID, Word: "", GeneratorVersion: ""}
		byKey[c.wrapper.Key(requests[i])] = wordID
	}

	found := c.wrapper.Peek(ctx, requests)
	result := make(map[string]*core.Conversation, len(found))

	for key, conversation := range found {
		result[byKey[key]] = conversation
	}

	return result
}

// Metrics returns the wrapper's hit/miss counters.
func (c *CachedConversations) Metrics() MetricsSnapshot {
	return c.wrapper.Metrics()
}

type speechArgs struct {
	text string
	opts core.SpeechOptions
}

// CachedSynthesizer puts the hot cache in front of a speech engine.
// It implements core.SpeechSynthesizer.
type CachedSynthesizer struct {
	next    core.SpeechSynthesizer
	wrapper *Wrapper[speechArgs, []byte]
}

// NewCachedSynthesizer wraps next.
func NewCachedSynthesizer(
	next core.SpeechSynthesizer,
	hotCache *HotCache,
	cfg WrapperConfig,
	log *logger.Logger,
) *CachedSynthesizer {
	if cfg.Name == "" {
		cfg.Name = SpeechCacheName
	}

	return &CachedSynthesizer{
		next: next,
		wrapper: NewWrapper(
			hotCache,
			cfg,
			func(args speechArgs) string { return SpeechKey(args.text, args.opts.Voice, args.opts.AudioEncoding) },
			Codec[[]byte](BinaryCodec{}),
			log,
		),
	}
}

// SynthesizeSpeech implements core.SpeechSynthesizer.
func (c *CachedSynthesizer) SynthesizeSpeech(ctx context.Context, text string, opts core.SpeechOptions) ([]byte, error) {
	audio, _, err := c.wrapper.Do(ctx, speechArgs{text: text, opts: opts}, func(ctx context.Context, args speechArgs) ([]byte, error) {
		return c.next.SynthesizeSpeech(ctx, args.text, args.opts)
	})

	return audio, err
}

// Metrics returns the wrapper's hit/miss counters.
func (c *CachedSynthesizer) Metrics() MetricsSnapshot {
	return c.wrapper.Metrics()
}
