package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "single demarche",
			input:    []string{"papiers"},
			expected: []string{"papiers"},
		},
		{
			name:     "trims whitespace",
			input:    []string{"  papiers  ", "logement  ", "  famille"},
			expected: []string{"papiers", "logement", "famille"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"papiers", "logement", "papiers", "famille", "logement"},
			expected: []string{"papiers", "logement", "famille"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"papiers", "", "  ", "logement"},
			expected: []string{"papiers", "logement"},
		},
		{
			name:     "preserves case",
			input:    []string{"Papiers", "papiers"},
			expected: []string{"Papiers", "papiers"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DedupeAndTrim(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
