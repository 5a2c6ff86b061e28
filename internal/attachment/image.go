package attachment

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"mailagent/internal/domain"
	"mailagent/internal/provider"
)

// ImageDecoderConfig configures multimodal image description.
type ImageDecoderConfig struct {
	Models      provider.ContentGenerator // typically client.Models
	Model       string
	Prompt      string
	Temperature float32
}

// ImageDecoder asks a Gemini model to describe an image.
type ImageDecoder struct {
	models      provider.ContentGenerator
	model       string
	prompt      string
	temperature float32
}

var _ domain.AttachmentDecoder = (*ImageDecoder)(nil)

func NewImageDecoder(cfg ImageDecoderConfig) *ImageDecoder {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &ImageDecoder{
		models:      cfg.Models,
		model:       cfg.Model,
		prompt:      cfg.Prompt,
		temperature: cfg.Temperature,
	}
}

func (d *ImageDecoder) Decode(ctx context.Context, data []byte, mimeType string) (string, error) {
	if d.models == nil {
		return "", fmt.Errorf("image: no model client configured")
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(d.prompt),
	}, genai.RoleUser)}
	temp := d.temperature
	res, err := d.models.GenerateContent(ctx, d.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "text/plain",
		Temperature:      &temp,
	})
	if err != nil {
		return "", fmt.Errorf("image: describe: %w", err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", fmt.Errorf("image: model returned no description")
	}
	return text, nil
}
