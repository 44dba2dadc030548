// Package worker serves conversation requests over NATS request/reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/cache"
	"github.com/book-expert/conversation-service/internal/conversation"
	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 120 * time.Second
	maxLookupWordIDs     = 100
)

// Messages returned to callers when an upstream dependency fails.
const (
	msgTextFailed  = "could not generate conversation, try again"
	msgAudioFailed = "could not generate audio, try again"
)

var (
	// ErrUnknownType indicates an unsupported request type.
	ErrUnknownType = errors.New("unknown request type")
	// ErrWordIDEmpty indicates that the word id is missing.
	ErrWordIDEmpty = errors.New("wordId is required")
	// ErrWordEmpty indicates that the word is missing.
	ErrWordEmpty = errors.New("word is required")
	// ErrTurnIndexMissing indicates that the turn index is missing.
	ErrTurnIndexMissing = errors.New("numeric turnIndex is required")
	// ErrTextEmpty indicates that the text is missing.
	ErrTextEmpty = errors.New("text is required")
	// ErrUnsupportedVoice indicates that the provided voice is not allowed.
	ErrUnsupportedVoice = errors.New("unsupported voice")
	// ErrWordIDsEmpty indicates that a lookup carries no word ids.
	ErrWordIDsEmpty = errors.New("wordIds is required")
	// ErrTooManyWordIDs indicates that a lookup carries too many word ids.
	ErrTooManyWordIDs = errors.New("too many wordIds")
	// ErrPatternEmpty indicates that a cache clear carries no pattern.
	ErrPatternEmpty = errors.New("pattern is required")
)

// Conversations is the generation surface served by the worker.
type Conversations interface {
	GenerateText(ctx context.Context, req core.TextRequest) (*core.Conversation, bool, error)
	GenerateTurnAudio(ctx context.Context, req core.AudioRequest) (*core.TurnAudio, error)
	Lookup(ctx context.Context, wordIDs []string) map[string]*core.Conversation
}

// CacheAdmin clears hot cache entries.
type CacheAdmin interface {
	Clear(ctx context.Context, pattern string) int
}

// MetricsSource reports a cache wrapper's counters.
type MetricsSource interface {
	Metrics() cache.MetricsSnapshot
}

// Options configures a NatsWorker.
type Options struct {
	Subject       string
	QueueGroup    string
	AllowedVoices []string
	Timeout       time.Duration
}

// NatsWorker answers conversation requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	conversations  Conversations
	cacheAdmin     CacheAdmin
	metrics        map[string]MetricsSource
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	conversations Conversations,
	cacheAdmin CacheAdmin,
	metrics map[string]MetricsSource,
	log *logger.Logger,
) *NatsWorker {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		conversations:  conversations,
		cacheAdmin:     cacheAdmin,
		metrics:        metrics,
		log:            log,
	}
}

// Run starts the worker and answers requests until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.System("Listening for conversation requests on %s (queue %q)", w.opts.Subject, w.opts.QueueGroup)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
	defer cancel()

	var req Request

	err := sonic.Unmarshal(msg.Data, &req)
	if err != nil {
		w.log.Error("Failed to unmarshal request: %v", err)
		w.respond(msg, &Reply{Header: replyHeader(req.Header), Error: &ReplyError{
			Code: CodeValidation, Message: "malformed request: " + err.Error(),
		}})

		return
	}

	reply := w.Handle(ctx, &req)

	w.respond(msg, reply)
}

// Handle validates and executes one request.
func (w *NatsWorker) Handle(ctx context.Context, req *Request) *Reply {
	reply := &Reply{Header: replyHeader(req.Header)}

	validationErr := w.validate(req)
	if validationErr != nil {
		w.log.Warn("Rejected %s request for workflow %s: %v", req.Type, req.Header.WorkflowID, validationErr)
		reply.Error = &ReplyError{Code: CodeValidation, Message: validationErr.Error()}

		return reply
	}

	switch req.Type {
	case TypeText:
		conv, cached, err := w.conversations.GenerateText(ctx, core.TextRequest{
			WordID:           req.WordID,
			Word:             req.Word,
			GeneratorVersion: req.GeneratorVersion,
		})
		if err != nil {
			reply.Error = w.classify(req, err, msgTextFailed)

			return reply
		}

		reply.Conversation = conv
		reply.Cached = cached
	case TypeAudio:
		audio, err := w.conversations.GenerateTurnAudio(ctx, core.AudioRequest{
			WordID:    req.WordID,
			TurnIndex: *req.TurnIndex,
			Text:      req.Text,
			Voice:     req.Voice,
		})
		if err != nil {
			reply.Error = w.classify(req, err, msgAudioFailed)

			return reply
		}

		reply.Audio = audio
	case TypeLookup:
		reply.Conversations = w.conversations.Lookup(ctx, req.WordIDs)
	case TypeClearCache:
		deleted := w.cacheAdmin.Clear(ctx, req.Pattern)
		reply.Deleted = &deleted
	case TypeMetrics:
		reply.Metrics = make(map[string]cache.MetricsSnapshot, len(w.metrics))
		for name, source := range w.metrics {
			reply.Metrics[name] = source.Metrics()
		}
	}

	return reply
}

func (w *NatsWorker) validate(req *Request) error {
	switch req.Type {
	case TypeText:
		if strings.TrimSpace(req.WordID) == "" {
			return ErrWordIDEmpty
		}

		if strings.TrimSpace(req.Word) == "" {
			return ErrWordEmpty
		}
	case TypeAudio:
		if strings.TrimSpace(req.WordID) == "" {
			return ErrWordIDEmpty
		}

		if req.TurnIndex == nil {
			return ErrTurnIndexMissing
		}

		if strings.TrimSpace(req.Text) == "" {
			return ErrTextEmpty
		}

		if req.Voice != "" && len(w.opts.AllowedVoices) > 0 && !slices.Contains(w.opts.AllowedVoices, req.Voice) {
			return fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, req.Voice)
		}
	case TypeLookup:
		if len(req.WordIDs) == 0 {
			return ErrWordIDsEmpty
		}

		if len(req.WordIDs) > maxLookupWordIDs {
			return fmt.Errorf("%w: %d > %d", ErrTooManyWordIDs, len(req.WordIDs), maxLookupWordIDs)
		}
	case TypeClearCache:
		if strings.TrimSpace(req.Pattern) == "" {
			return ErrPatternEmpty
		}
	case TypeMetrics:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownType, req.Type)
	}

	return nil
}

// classify maps a generation error to a reply error. Precondition failures keep
// their message; upstream failures get a generic one.
func (w *NatsWorker) classify(req *Request, err error, upstreamMessage string) *ReplyError {
	if isPrecondition(err) {
		w.log.Warn("Precondition failed for %s request on %s: %v", req.Type, req.WordID, err)

		return &ReplyError{Code: CodePrecondition, Message: err.Error()}
	}

	w.log.Error("Failed %s request on %s for workflow %s: %v", req.Type, req.WordID, req.Header.WorkflowID, err)

	return &ReplyError{Code: CodeUpstream, Message: upstreamMessage}
}

func isPrecondition(err error) bool {
	return errors.Is(err, conversation.ErrConversationNotFound) ||
		errors.Is(err, conversation.ErrTurnIndexOutOfRange) ||
		errors.Is(err, conversation.ErrEmptyTurnText) ||
		errors.Is(err, conversation.ErrWordIDEmpty)
}

// respond marshals and publishes the reply.
func (w *NatsWorker) respond(msg *nats.Msg, reply *Reply) {
	if msg.Reply == "" {
		w.log.Warn("Dropping reply for workflow %s: request has no reply subject", reply.Header.WorkflowID)

		return
	}

	replyData, err := sonic.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", reply.Header.WorkflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func replyHeader(request events.EventHeader) events.EventHeader {
	workflowID := request.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
