// Package conversation generates vocabulary dialogues and their per-turn audio, using
// the durable artifact store as the system of record.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/conversation-service/internal/keys"
	"github.com/book-expert/conversation-service/internal/parser"
	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
)

const contentTypeJSON = "application/json"

// Precondition errors. The caller has to fix the request; retrying will not help.
var (
	ErrWordIDEmpty          = errors.New("word id cannot be empty")
	ErrConversationNotFound = errors.New("conversation does not exist; generate text first")
	ErrTurnIndexOutOfRange  = errors.New("turn index out of range")
	ErrEmptyTurnText        = errors.New("turn has no text to synthesize")
)

// Upstream errors. The request may succeed when retried.
var (
	ErrUpstream = errors.New("upstream generation failed")
	ErrStorage  = errors.New("durable store operation failed")
)

// Options configures a Service.
type Options struct {
	// GeneratorVersion is stamped on conversations whose request carries none.
	GeneratorVersion string

	Text   core.TextOptions
	Speech core.SpeechOptions

	// LockTurnPatches serializes audio patches per conversation inside this process.
	// Without it, concurrent patches of different turns may lose one audio link.
	LockTurnPatches bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service owns the write path of conversations and turn audio.
type Service struct {
	store  core.ArtifactStore
	text   core.TextGenerator
	speech core.SpeechSynthesizer
	opts   Options
	locks  *keyedMutex
	log    *logger.Logger
}

// NewService creates a Service from its collaborators.
func NewService(
	store core.ArtifactStore,
	text core.TextGenerator,
	speech core.SpeechSynthesizer,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Speech.AudioEncoding == "" {
		opts.Speech.AudioEncoding = core.AudioEncodingMP3
	}

	return &Service{
		store:  store,
		text:   text,
		speech: speech,
		opts:   opts,
		locks:  newKeyedMutex(),
		log:    log,
	}
}

// BuildPrompt returns the instruction sent to the text model for word.
func BuildPrompt(word string) string {
	var builder strings.Builder

	builder.WriteString("Write a short, natural Mandarin Chinese dialogue between two speakers, A and B, ")
	fmt.Fprintf(&builder, "that uses the word %q in context. ", word)
	fmt.Fprintf(&builder, "Use between %d and %d lines. ", core.MinTurns, core.MaxTurns)
	builder.WriteString("Write every line on its own as:\n")
	builder.WriteString("SPEAKER: <chinese> | <pinyin with tone marks> | <english translation>\n")
	builder.WriteString("For example:\n")
	builder.WriteString("A: 你好！ | Nǐ hǎo! | Hello!\n")
	builder.WriteString("Do not add numbering, titles or any other text.")

	return builder.String()
}

// GenerateText returns the conversation for req.WordID, generating and persisting it
// when the durable store has none. The durable path depends on the word id only.
func (s *Service) GenerateText(ctx context.Context, req core.TextRequest) (*core.Conversation, error) {
	if strings.TrimSpace(req.WordID) == "" {
		return nil, ErrWordIDEmpty
	}

	path := keys.ConversationPath(req.WordID)

	existing, err := s.load(ctx, path)
	if err != nil && !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	if existing != nil {
		s.log.Info("Conversation for %s served from durable store", req.WordID)

		return existing, nil
	}

	word := req.Word
	if strings.TrimSpace(word) == "" {
		word = req.WordID
	}

	version := req.GeneratorVersion
	if version == "" {
		version = s.opts.GeneratorVersion
	}

	prompt := BuildPrompt(word)

	start := s.opts.Now()

	raw, err := s.text.GenerateText(ctx, prompt, s.opts.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: text model for %s: %w", ErrUpstream, req.WordID, err)
	}

	turns := parser.Parse(raw)

	conversation := &core.Conversation{
		ID:               keys.ConversationID(req.WordID),
		WordID:           req.WordID,
		Word:             word,
		GeneratorVersion: version,
		Prompt:           prompt,
		Turns:            turns,
		GeneratedAt:      s.opts.Now(),
	}

	err = s.save(ctx, path, conversation)
	if err != nil {
		return nil, err
	}

	s.log.Info("Generated conversation %s with %d turns in %s", conversation.ID, len(turns), s.opts.Now().Sub(start))

	return conversation, nil
}

// GenerateTurnAudio synthesizes, stores and links the audio of one turn. A turn that
// already carries an audio URL is returned as is, marked cached.
func (s *Service) GenerateTurnAudio(ctx context.Context, req core.AudioRequest) (*core.TurnAudio, error) {
	if strings.TrimSpace(req.WordID) == "" {
		return nil, ErrWordIDEmpty
	}

	if s.opts.LockTurnPatches {
		unlock := s.locks.Lock(req.WordID)
		defer unlock()
	}

	path := keys.ConversationPath(req.WordID)

	conversation, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}

	if req.TurnIndex < 0 || req.TurnIndex >= len(conversation.Turns) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrTurnIndexOutOfRange, req.TurnIndex, len(conversation.Turns))
	}

	opts := s.opts.Speech
	if req.Voice != "" {
		opts.Voice = req.Voice
	}

	turn := &conversation.Turns[req.TurnIndex]
	if turn.AudioURL != "" {
		s.log.Info("Turn %d of %s already linked to %s", req.TurnIndex, conversation.ID, turn.AudioURL)

		return s.turnAudio(conversation, req.TurnIndex, opts.Voice, true), nil
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(turn.Chinese)
	}

	if text == "" {
		return nil, fmt.Errorf("%w: turn %d of %s", ErrEmptyTurnText, req.TurnIndex, conversation.ID)
	}

	audioURL, err := s.storeAudio(ctx, req.WordID, req.TurnIndex, text, opts)
	if err != nil {
		return nil, err
	}

	// Whole-document overwrite: concurrent patches of other turns are last-writer-wins
	// unless LockTurnPatches is set.
	turn.AudioURL = audioURL

	err = s.save(ctx, path, conversation)
	if err != nil {
		return nil, err
	}

	return s.turnAudio(conversation, req.TurnIndex, opts.Voice, false), nil
}

// storeAudio returns the public URL of the turn's audio, synthesizing and uploading
// it first when the durable store does not hold it yet.
func (s *Service) storeAudio(ctx context.Context, wordID string, turnIndex int, text string, opts core.SpeechOptions) (string, error) {
	audioPath := keys.TurnAudioPath(wordID, turnIndex, text, opts.AudioEncoding.Extension())

	exists, err := s.store.Exists(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: exists %s: %w", ErrStorage, audioPath, err)
	}

	if exists {
		s.log.Info("Reusing stored audio %s", audioPath)

		return s.store.PublicURL(audioPath), nil
	}

	audioData, err := s.speech.SynthesizeSpeech(ctx, text, opts)
	if err != nil {
		return "", fmt.Errorf("%w: speech for turn %d of %s: %w", ErrUpstream, turnIndex, wordID, err)
	}

	err = s.store.Upload(ctx, audioPath, audioData, opts.AudioEncoding.ContentType())
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", ErrStorage, audioPath, err)
	}

	s.log.Info("Stored %d bytes of audio at %s", len(audioData), audioPath)

	return s.store.PublicURL(audioPath), nil
}

func (s *Service) turnAudio(conversation *core.Conversation, turnIndex int, voice string, cached bool) *core.TurnAudio {
	return &core.TurnAudio{
		ConversationID: conversation.ID,
		TurnIndex:      turnIndex,
		AudioURL:       conversation.Turns[turnIndex].AudioURL,
		Voice:          voice,
		Cached:         cached,
		GeneratedAt:    s.opts.Now(),
	}
}

// load returns ErrConversationNotFound when path holds no document.
func (s *Service) load(ctx context.Context, path string) (*core.Conversation, error) {
	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: exists %s: %w", ErrStorage, path, err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, path)
	}

	data, err := s.store.Download(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", ErrStorage, path, err)
	}

	var conversation core.Conversation

	err = sonic.Unmarshal(data, &conversation)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStorage, path, err)
	}

	return &conversation, nil
}

func (s *Service) save(ctx context.Context, path string, conversation *core.Conversation) error {
	data, err := sonic.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", conversation.ID, err)
	}

	err = s.store.Upload(ctx, path, data, contentTypeJSON)
	if err != nil {
		return fmt.Errorf("%w: upload %s: %w", ErrStorage, path, err)
	}

	return nil
}
