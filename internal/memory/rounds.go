package memory

import "github.com/parleyhq/parley/internal/chat"

// A round is one user turn plus its paired assistant turn. All
// round/message arithmetic goes through these helpers so the factor
// of two lives in exactly one place.

const messagesPerRound = 2

// RoundsToMessages converts a round count to a message count.
func RoundsToMessages(rounds int) int {
	return rounds * messagesPerRound
}

// MessagesToRounds converts a message count to whole rounds,
// discarding a trailing unpaired message.
func MessagesToRounds(messages int) int {
	return messages / messagesPerRound
}

// CountMessageRounds returns the number of whole rounds in a history.
func CountMessageRounds(history []chat.Message) int {
	return MessagesToRounds(len(history))
}
