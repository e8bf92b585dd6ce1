package chat

import (
	"strings"
	"testing"

	"github.com/skillswap/chat-app/internal/apperr"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid short", "hello", false},
		{"valid unicode", "héllo wörld 你好", false},
		{"empty", "", true},
		{"max chars ok", strings.Repeat("a", 2000), false},
		{"too many chars", strings.Repeat("a", 2001), true},
		{"too many bytes", strings.Repeat("你", 1500), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr && !apperr.Is(err, apperr.KindInvalid) {
				t.Errorf("expected invalid kind, got %v", err)
			}
		})
	}
}
