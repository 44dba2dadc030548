package core

import "time"

// Speaker identifies a synthetic dialogue role.
type Speaker string

// The closed set of dialogue roles.
const (
	SpeakerA Speaker = "A"
	SpeakerB Speaker = "B"
)

// Valid reports whether s belongs to the closed speaker set.
func (s Speaker) Valid() bool {
	return s == SpeakerA || s == SpeakerB
}

// Turn is one utterance of a generated dialogue.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Chinese string  `json:"chinese"`
	Pinyin  string  `json:"pinyin"`
	English string  `json:"english"`
	// AudioURL is empty until synthesized. A non-empty value always points at an
	// artifact already present in the durable store.
	AudioURL string `json:"audioUrl"`
}

// Conversation is a generated dialogue for one vocabulary item.
type Conversation struct {
	ID               string    `json:"id"`
	WordID           string    `json:"wordId"`
	Word             string    `json:"word"`
	GeneratorVersion string    `json:"generatorVersion"`
	Prompt           string    `json:"prompt"`
	Turns            []Turn    `json:"turns"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Conversation length bounds for any persisted conversation.
const (
	MinTurns = 3
	MaxTurns = 5
)

// TurnAudio describes the audio reference of a single turn.
type TurnAudio struct {
	ConversationID string    `json:"conversationId"`
	TurnIndex      int       `json:"turnIndex"`
	AudioURL       string    `json:"audioUrl"`
	Voice          string    `json:"voice"`
	Cached         bool      `json:"cached"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// TextRequest asks for the conversation of one vocabulary item.
type TextRequest struct {
	WordID           string
	Word             string
	GeneratorVersion string
}

// AudioRequest asks for the audio of one turn of an existing conversation.
type AudioRequest struct {
	WordID    string
	TurnIndex int
	Text      string
	Voice     string
}
