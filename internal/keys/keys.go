// Package keys derives stable cache keys and storage paths from resource identities.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const conversationsPrefix = "conversations"

// Derive returns the lowercase hex SHA-256 digest of identity.
func Derive(identity string) string {
	sum := sha256.Sum256([]byte(identity))

	return hex.EncodeToString(sum[:])
}

// ConversationID returns the immutable conversation id for a word.
func ConversationID(wordID string) string {
	return wordID + "-" + Derive(wordID)
}

// ConversationPath returns the durable-store path of a word's conversation document.
// Only the word id takes part, so the generator version does not influence the path.
func ConversationPath(wordID string) string {
	return fmt.Sprintf("%s/%s/%s.json", conversationsPrefix, wordID, Derive(wordID))
}

// TurnAudioPath returns the durable-store path of one turn's synthesized audio.
// The digest covers the conversation hash, the turn ordinal and the literal turn text.
func TurnAudioPath(wordID string, turnIndex int, text, extension string) string {
	digest := Derive(fmt.Sprintf("%s:%d:%s", Derive(wordID), turnIndex, text))

	return fmt.Sprintf("%s/%s/audio/%s-turn%d.%s", conversationsPrefix, wordID, digest, turnIndex, extension)
}

// SpeechCacheKey returns the hot-cache key material for a synthesized utterance.
func SpeechCacheKey(text, voice string) string {
	return Derive(text + "\x00" + voice)
}
