// Package parser turns raw generated dialogue text into validated conversation turns.
package parser

import (
	"regexp"
	"strings"

	"github.com/book-expert/conversation-service/internal/core"
)

// Line patterns. The speaker may be wrapped in markdown bold or preceded by a list
// marker, and either an ASCII or a full-width colon may follow it.
var (
	richLinePattern = regexp.MustCompile(
		`^(?:[-*•]\s*)?\**([AB])\**\s*[:：]\**\s*(.*?)\s*\|\s*(.*?)\s*\|\s*(.*?)\s*$`,
	)
	bareLinePattern = regexp.MustCompile(
		`^(?:[-*•]\s*)?\**([AB])\**\s*[:：]\**\s*(.*?)\s*$`,
	)
)

// fallbackTurns is substituted whenever the model output yields too few turns.
var fallbackTurns = []core.Turn{
	{Speaker: core.SpeakerA, Chinese: "你好！", Pinyin: "nǐ hǎo!", English: "Hello!"},
	{Speaker: core.SpeakerB, Chinese: "你好，你今天怎么样？", Pinyin: "nǐ hǎo, nǐ jīntiān zěnmeyàng?", English: "Hello, how are you today?"},
	{Speaker: core.SpeakerA, Chinese: "我很好，谢谢！", Pinyin: "wǒ hěn hǎo, xièxie!", English: "I'm fine, thank you!"},
}

// Fallback returns a fresh copy of the fixed fallback conversation.
func Fallback() []core.Turn {
	turns := make([]core.Turn, len(fallbackTurns))
	copy(turns, fallbackTurns)

	return turns
}

// Parse extracts dialogue turns from raw model output. The result always holds
// between core.MinTurns and core.MaxTurns turns.
func Parse(rawText string) []core.Turn {
	turns := make([]core.Turn, 0, core.MaxTurns)

	for _, line := range strings.Split(rawText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		turn, ok := parseLine(line)
		if !ok {
			continue
		}

		turns = append(turns, turn)
	}

	if len(turns) < core.MinTurns {
		return Fallback()
	}

	if len(turns) > core.MaxTurns {
		turns = turns[:core.MaxTurns]
	}

	return turns
}

func parseLine(line string) (core.Turn, bool) {
	if match := richLinePattern.FindStringSubmatch(line); match != nil {
		return core.Turn{
			Speaker: core.Speaker(match[1]),
			Chinese: match[2],
			Pinyin:  match[3],
			English: match[4],
		}, true
	}

	if match := bareLinePattern.FindStringSubmatch(line); match != nil {
		return core.Turn{
			Speaker: core.Speaker(match[1]),
			Chinese: match[2],
		}, true
	}

	return core.Turn{}, false
}
