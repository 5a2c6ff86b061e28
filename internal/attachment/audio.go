package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"mailagent/internal/domain"
	"mailagent/internal/provider"
)

// Transcriber converts audio to text. *provider.WhisperProvider satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*provider.TranscriptionResult, error)
}

// AudioDecoder transcribes voice notes and other audio attachments.
type AudioDecoder struct {
	transcriber Transcriber
}

var _ domain.AttachmentDecoder = (*AudioDecoder)(nil)

func NewAudioDecoder(t Transcriber) *AudioDecoder {
	return &AudioDecoder{transcriber: t}
}

var audioExtensions = map[string]string{
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/flac":  "flac",
	"audio/ogg":   "ogg",
	"audio/mp4":   "m4a",
	"audio/aac":   "aac",
	"audio/webm":  "webm",
}

// audioFilename names the upload so the transcription API can sniff the
// container from its extension.
func audioFilename(mimeType string) string {
	base := strings.TrimSpace(strings.ToLower(strings.SplitN(mimeType, ";", 2)[0]))
	if ext, ok := audioExtensions[base]; ok {
		return "audio." + ext
	}
	return "audio.bin"
}

func (d *AudioDecoder) Decode(ctx context.Context, data []byte, mimeType string) (string, error) {
	if d.transcriber == nil {
		return "", fmt.Errorf("audio: no transcriber configured")
	}
	res, err := d.transcriber.Transcribe(ctx, bytes.NewReader(data), audioFilename(mimeType))
	if err != nil {
		return "", fmt.Errorf("audio: transcribe: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("audio: empty transcription")
	}
	return text, nil
}
