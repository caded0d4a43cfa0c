package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"analyst@acme.io", true},
		{"first.last+sales@eu.acme.io", true},
		{"ops-team@acme-corp.com", true},
		{"acme.io", false},
		{"analyst@", false},
		{"@acme.io", false},
		{"analyst@@acme.io", false},
		{"data analyst@acme.io", false},
		{"analyst@localhost", false},
		{strings.Repeat("a", 250) + "@acme.io", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidEmail(tt.email))
		})
	}
}

func TestIsValidPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		errMsg   string
	}{
		{"accepted", "Quarterly-r3port", ""},
		{"short", "Qr-3", "at least 8 characters"},
		{"long", "Qr-3" + strings.Repeat("x", 125), "at most 128 characters"},
		{"no upper", "quarterly-r3port", "uppercase letter"},
		{"no lower", "QUARTERLY-R3PORT", "lowercase letter"},
		{"no digit", "Quarterly-report", "number"},
		{"no symbol", "Quarterlyr3port", "special character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, msg := IsValidPassword(tt.password)
			if tt.errMsg == "" {
				assert.True(t, valid)
				assert.Empty(t, msg)
				return
			}
			assert.False(t, valid)
			assert.Contains(t, msg, tt.errMsg)
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Revenue", SanitizeString("Rev\x00enue"))
	assert.Equal(t, "Revenue", SanitizeString("Rev\x01\x1benue"))
	assert.Equal(t, "line one\nline\ttwo\r", SanitizeString("line one\nline\ttwo\r"))
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"Sales", 10, "Sales"},
		{"Sales", 5, "Sales"},
		{"Sales pipeline", 5, "Sales"},
		{"", 3, ""},
		{"Sales", 0, ""},
		{"Sales", -1, ""},
		{"Umsätze Köln", 6, "Umsätz"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, TruncateString(tt.input, tt.maxLen), "%q/%d", tt.input, tt.maxLen)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Sales Q3", CleanText("  Sales\x00 Q3 \n", 100))
	assert.Equal(t, "abc", CleanText("abcdef", 3))
	assert.Equal(t, "", CleanText(" \t\n", 10))
}
