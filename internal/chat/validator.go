package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/skillswap/chat-app/internal/apperr"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ValidateMessage checks that a chat message meets content requirements.
// Violations are reported as invalid-input errors so callers can relay them
// to the client verbatim.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return apperr.New(apperr.KindInvalid, "empty_message", "message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return apperr.New(apperr.KindInvalid, "message_too_large", fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes))
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return apperr.New(apperr.KindInvalid, "message_too_large", fmt.Sprintf("message exceeds %d character limit", MaxTextChars))
	}
	if !utf8.ValidString(text) {
		return apperr.New(apperr.KindInvalid, "invalid_encoding", "message contains invalid UTF-8")
	}
	return nil
}
