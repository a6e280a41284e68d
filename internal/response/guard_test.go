package response

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   string
		limit   int
		want    string
		wantErr error
	}{
		{"clean", "Happy to help! What area are you looking in?", 320, "Happy to help! What area are you looking in?", nil},
		{"strips wrapping quotes", `"Sounds good, talk soon!"`, 320, "Sounds good, talk soon!", nil},
		{"empty", "   ", 320, "", ErrEmptyDraft},
		{"too long", strings.Repeat("a", 321), 320, "", ErrDraftTooLong},
		{"limit counts runes", strings.Repeat("é", 320), 320, strings.Repeat("é", 320), nil},
		{"placeholder", "Hi [Name], want to see the house?", 320, "", ErrUnfilledMarker},
		{"mustache", "Hi {{name}}!", 320, "", ErrUnfilledMarker},
		{"prompt leak", "My instructions are to keep you engaged.", 320, "", ErrDisallowed},
		{"credential", "api_key: abc123", 320, "", ErrDisallowed},
		{"steering", "It's a great christian neighborhood.", 320, "", ErrDisallowed},
		{"familial status", "This one is perfect for families!", 320, "", ErrDisallowed},
		{"guarantee", "This home is guaranteed to appreciate.", 320, "", ErrDisallowed},
		{"ai disclosure sanitized", "I'm an AI assistant. Want to tour it Saturday?", 320, "Want to tour it Saturday?", nil},
		{"only ai disclosure", "I am a chatbot.", 320, "", ErrEmptyDraft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Validate(tt.draft, tt.limit)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got err %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanReportsReasons(t *testing.T) {
	res := Scan("Powered by Bedrock. Redis at redis://10.0.0.1:6379")
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Reasons, "leak:tech_stack")
	assert.Contains(t, res.Reasons, "leak:database_url")

	res = Scan("See you Saturday!")
	assert.False(t, res.Blocked)
	assert.Empty(t, res.Reasons)
	assert.Equal(t, "See you Saturday!", res.Sanitized)
}
