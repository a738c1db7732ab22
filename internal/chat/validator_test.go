package chat

import (
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		mediaType MediaType
		mediaURL  string
		wantErr   bool
	}{
		{"plain text", "Olá", MediaNone, "", false},
		{"image with caption", "look", MediaImage, "/uploads/a.png", false},
		{"video without caption", "", MediaVideo, "/uploads/a.mp4", false},
		{"empty", "", MediaNone, "", true},
		{"unknown media type", "x", MediaType("audio"), "/uploads/a.mp3", true},
		{"url without type", "x", MediaNone, "/uploads/a.png", true},
		{"type without url", "x", MediaImage, "", true},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), MediaNone, "", true},
		{"too many runes", strings.Repeat("é", MaxTextChars+1), MediaNone, "", true},
		{"exactly max runes", strings.Repeat("é", MaxTextChars), MediaNone, "", false},
		{"invalid utf8", string([]byte{0xff, 0xfe}), MediaNone, "", true},
		{"url too long", "", MediaImage, "/" + strings.Repeat("u", MaxMediaURLLen), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.content, tt.mediaType, tt.mediaURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
