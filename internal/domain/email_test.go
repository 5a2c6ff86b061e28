package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe <Jane@Example.com>", "Jane@Example.com"},
		{"<support@shop.test>", "support@shop.test"},
		{"  plain@example.com ", "plain@example.com"},
		{"Name < spaced@example.com >", "spaced@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractAddress(tt.in), tt.in)
	}
}

func TestEmail_AttachmentsAreCopied(t *testing.T) {
	atts := []Attachment{{Filename: "a.pdf", Data: []byte("x")}}
	e := NewEmail("m1", "t1", EmailHeaders{Subject: "hi"}, "body", atts)

	atts[0].Filename = "changed"
	assert.Equal(t, "a.pdf", e.Attachments()[0].Filename)

	got := e.Attachments()
	got[0].Filename = "mutated"
	assert.Equal(t, "a.pdf", e.Attachments()[0].Filename)
	assert.Equal(t, "m1", e.ID())
	assert.Equal(t, "t1", e.ThreadID())
}
