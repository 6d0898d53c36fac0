package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIntoSentences(t *testing.T) {
	p := &Processor{}

	tests := []struct {
		text string
		want []string
	}{
		{"This is a test. It contains several sentences.", []string{"This is a test.", "It contains several sentences."}},
		{"Version 1.5 shipped! Did it? Yes", []string{"Version 1.5 shipped!", "Did it?", "Yes"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, p.splitIntoSentences(tt.text))
		})
	}
}

func TestTail(t *testing.T) {
	assert.Equal(t, "zeta.", tail("Alpha beta gamma. Delta epsilon zeta.", 10))
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "", tail("abcdefghijklmnop", 4))
	assert.Equal(t, "two three", tail("one two three", 9))
}
