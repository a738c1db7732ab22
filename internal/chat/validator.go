package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max content size
	MaxTextChars    = 2000 // max character count
	MaxMediaURLLen  = 2048
)

// ValidateMessage checks that a chat message meets content requirements.
// Content may be empty only when media is attached. The media URL is opaque
// to the service; only its presence and length are checked.
func ValidateMessage(content string, mediaType MediaType, mediaURL string) error {
	if !mediaType.Valid() {
		return fmt.Errorf("unsupported media type %q", mediaType)
	}
	if mediaURL != "" && mediaType == MediaNone {
		return fmt.Errorf("media url requires a media type")
	}
	if mediaType != MediaNone && mediaURL == "" {
		return fmt.Errorf("media type %q requires a media url", mediaType)
	}
	if len(mediaURL) > MaxMediaURLLen {
		return fmt.Errorf("media url exceeds %d byte limit", MaxMediaURLLen)
	}
	if len(content) == 0 && mediaURL == "" {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(content) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}
