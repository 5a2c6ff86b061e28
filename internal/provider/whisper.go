package provider

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

const (
	whisperDefaultBase  = "https://api.openai.com/v1"
	whisperDefaultModel = "whisper-1"
)

// WhisperConfig configures an OpenAI-compatible speech-to-text endpoint.
type WhisperConfig struct {
	APIBase  string
	APIKey   string
	Model    string
	Language string // optional ISO-639-1 hint
	Client   *http.Client
	Logger   *slog.Logger
}

// WhisperProvider transcribes audio attachments. It is not a chat provider.
type WhisperProvider struct {
	url    string
	header http.Header
	fields map[string]string
	client *http.Client
	logger *slog.Logger
}

func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fields := map[string]string{
		"model":           cmp.Or(cfg.Model, whisperDefaultModel),
		"response_format": "json",
	}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cfg.APIKey)
	return &WhisperProvider{
		url:    cmp.Or(cfg.APIBase, whisperDefaultBase) + "/audio/transcriptions",
		header: h,
		fields: fields,
		client: cfg.Client,
		logger: cfg.Logger.With("provider", "whisper"),
	}
}

type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe uploads audio as a multipart form. The API infers the codec
// from the extension of filename.
func (w *WhisperProvider) Transcribe(ctx context.Context, audio io.Reader, filename string) (*TranscriptionResult, error) {
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	for k, v := range w.fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	body := form.Bytes()

	resp, err := doWithRetry(ctx, w.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = w.header.Clone()
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Provider: "whisper", Code: resp.StatusCode, Body: string(msg)}
	}
	var res TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	w.logger.Debug("transcribed", "audio_bytes", n, "chars", len(res.Text), "language", res.Language)
	return &res, nil
}
