package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"mailagent/internal/domain"
	"mailagent/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubDecoder struct {
	text  string
	err   error
	calls int
	block bool
}

var _ domain.AttachmentDecoder = (*stubDecoder)(nil)

func (s *stubDecoder) Decode(ctx context.Context, data []byte, mimeType string) (string, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.text, s.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		att  domain.Attachment
		want Category
	}{
		{"pdf mime", domain.Attachment{Filename: "a.bin", MimeType: "application/pdf"}, CategoryDocument},
		{"pdf extension wins over image mime", domain.Attachment{Filename: "scan.PDF", MimeType: "image/png"}, CategoryDocument},
		{"image", domain.Attachment{Filename: "a.png", MimeType: "image/png"}, CategoryImage},
		{"audio", domain.Attachment{Filename: "a.ogg", MimeType: "Audio/OGG"}, CategoryAudio},
		{"unsupported", domain.Attachment{Filename: "a.zip", MimeType: "application/zip"}, CategoryUnsupported},
		{"empty", domain.Attachment{}, CategoryUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.att))
		})
	}
}

func TestExtract_FragmentsInOrder(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{
		PDF:    &stubDecoder{text: "invoice total 42"},
		Image:  &stubDecoder{text: "a cat"},
		Audio:  &stubDecoder{text: "hello there"},
		Logger: testLogger(),
	})

	got := ex.Extract(context.Background(), []domain.Attachment{
		{Filename: "doc.pdf", MimeType: "application/pdf"},
		{Filename: "cat.jpg", MimeType: "image/jpeg"},
		{Filename: "note.ogg", MimeType: "audio/ogg"},
		{Filename: "data.zip", MimeType: "application/zip"},
	})

	assert.Equal(t, []string{
		"PDF (doc.pdf) content:\ninvoice total 42",
		"Image (cat.jpg) content:\na cat",
		"Audio (note.ogg) content:\nhello there",
		"[Unsupported attachment data.zip of type application/zip]",
	}, got)
}

func TestExtract_FailuresBecomePlaceholders(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{
		PDF:    &stubDecoder{err: errors.New("broken xref")},
		Image:  &stubDecoder{err: errors.New("quota")},
		Logger: testLogger(),
	})

	got := ex.Extract(context.Background(), []domain.Attachment{
		{Filename: "doc.pdf", MimeType: "application/pdf"},
		{Filename: "cat.jpg", MimeType: "image/jpeg"},
		{Filename: "note.mp3", MimeType: "audio/mpeg"},
	})

	assert.Equal(t, []string{
		"PDF (doc.pdf) content:\n[Extraction of PDF content failed]",
		"Image (cat.jpg) content:\n[Extraction of image content failed]",
		"Audio (note.mp3) content:\n[Extraction of audio content failed]",
	}, got)
}

func TestExtract_TimeoutIsFailure(t *testing.T) {
	dec := &stubDecoder{block: true}
	ex := NewExtractor(ExtractorConfig{PDF: dec, CallTimeout: 10 * time.Millisecond, Logger: testLogger()})

	got := ex.Extract(context.Background(), []domain.Attachment{{Filename: "slow.pdf", MimeType: "application/pdf"}})
	require.Len(t, got, 1)
	assert.Equal(t, "PDF (slow.pdf) content:\n[Extraction of PDF content failed]", got[0])
	assert.Equal(t, 1, dec.calls)
}

func TestExtract_NoAttachments(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{Logger: testLogger()})
	assert.Empty(t, ex.Extract(context.Background(), nil))
}

func TestPDFDecoder_RejectsGarbage(t *testing.T) {
	_, err := PDFDecoder{}.Decode(context.Background(), []byte("not a pdf"), "application/pdf")
	assert.Error(t, err)

	_, err = PDFDecoder{}.Decode(context.Background(), nil, "application/pdf")
	assert.Error(t, err)
}

type stubTranscriber struct {
	filename string
	text     string
	err      error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (*provider.TranscriptionResult, error) {
	s.filename = filename
	if s.err != nil {
		return nil, s.err
	}
	return &provider.TranscriptionResult{Text: s.text}, nil
}

func TestAudioDecoder(t *testing.T) {
	tr := &stubTranscriber{text: "  please call me back  "}
	text, err := NewAudioDecoder(tr).Decode(context.Background(), []byte{1, 2}, "audio/ogg; codecs=opus")
	require.NoError(t, err)
	assert.Equal(t, "please call me back", text)
	assert.Equal(t, "audio.ogg", tr.filename)

	_, err = NewAudioDecoder(&stubTranscriber{}).Decode(context.Background(), nil, "audio/x-unknown")
	assert.ErrorContains(t, err, "empty transcription")

	_, err = NewAudioDecoder(nil).Decode(context.Background(), nil, "audio/mpeg")
	assert.Error(t, err)
}

type stubGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (s *stubGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model, s.contents, s.config = model, contents, config
	return s.resp, s.err
}

func TestImageDecoder(t *testing.T) {
	gen := &stubGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("A receipt for $12.", genai.RoleModel)}},
	}}
	dec := NewImageDecoder(ImageDecoderConfig{Models: gen, Prompt: "Describe this image."})

	text, err := dec.Decode(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "A receipt for $12.", text)
	assert.Equal(t, "gemini-2.5-flash", gen.model)
	require.Len(t, gen.contents, 1)
	require.Len(t, gen.contents[0].Parts, 2)
	assert.Equal(t, "image/png", gen.contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "Describe this image.", gen.contents[0].Parts[1].Text)
	assert.Equal(t, "text/plain", gen.config.ResponseMIMEType)

	gen.err = errors.New("quota exceeded")
	_, err = dec.Decode(context.Background(), nil, "image/png")
	assert.True(t, strings.Contains(err.Error(), "quota exceeded"))
}
