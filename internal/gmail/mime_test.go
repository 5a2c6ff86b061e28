package gmail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/domain"
)

func TestDecodeData_PaddedAndRaw(t *testing.T) {
	for _, in := range []string{"aGk_", "aGk-", "aGVsbG8=", "aGVsbG8"} {
		_, err := decodeData(in)
		assert.NoError(t, err, in)
	}
	got, err := decodeData("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = decodeData("***")
	assert.Error(t, err)
}

func TestBuildReply_SubjectPrefix(t *testing.T) {
	raw, err := buildReply("", domain.EmailHeaders{Sender: "a@b.test", Subject: "RE: order 12"}, "ok")
	require.NoError(t, err)
	msg := string(raw)
	assert.Contains(t, msg, "Subject: RE: order 12\r\n")
	assert.NotContains(t, msg, "From:")
	assert.NotContains(t, msg, "In-Reply-To")
}

func TestBuildReply_EncodesNonASCII(t *testing.T) {
	raw, err := buildReply("", domain.EmailHeaders{Sender: "<a@b.test>", Subject: "Rückerstattung"}, "Grüße")
	require.NoError(t, err)
	msg := string(raw)
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.Contains(t, msg, "R=C3=BCckerstattung?=\r\n")
	assert.True(t, strings.HasSuffix(msg, "Gr=C3=BC=C3=9Fe"))
}

func TestBuildReply_NoSender(t *testing.T) {
	_, err := buildReply("", domain.EmailHeaders{Subject: "x"}, "ok")
	assert.Error(t, err)
}
