package worker

import (
	"github.com/book-expert/conversation-service/internal/cache"
	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/events"
)

// Request types.
const (
	TypeText       = "text"
	TypeAudio      = "audio"
	TypeLookup     = "lookup"
	TypeClearCache = "clear_cache"
	TypeMetrics    = "metrics"
)

// Reply error codes.
const (
	CodeValidation   = "validation"
	CodePrecondition = "precondition"
	CodeUpstream     = "upstream"
)

// Request is the JSON body of a conversation request.
type Request struct {
	Header           events.EventHeader `json:"header"`
	Type             string             `json:"type"`
	WordID           string             `json:"wordId,omitempty"`
	Word             string             `json:"word,omitempty"`
	GeneratorVersion string             `json:"generatorVersion,omitempty"`
	TurnIndex        *int               `json:"turnIndex,omitempty"`
	Text             string             `json:"text,omitempty"`
	Voice            string             `json:"voice,omitempty"`
	Pattern          string             `json:"pattern,omitempty"`
	WordIDs          []string           `json:"wordIds,omitempty"`
}

// Reply is the JSON body answered to every request. Exactly one of the payload
// fields or Error is set.
type Reply struct {
	Header        events.EventHeader               `json:"header"`
	Conversation  *core.Conversation               `json:"conversation,omitempty"`
	Cached        bool                             `json:"cached,omitempty"`
	Audio         *core.TurnAudio                  `json:"audio,omitempty"`
	Conversations map[string]*core.Conversation    `json:"conversations,omitempty"`
	Deleted       *int                             `json:"deleted,omitempty"`
	Metrics       map[string]cache.MetricsSnapshot `json:"metrics,omitempty"`
	Error         *ReplyError                      `json:"error,omitempty"`
}

// ReplyError reports why a request failed.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
