// Package attachment turns email attachments into text fragments the
// classifier and reply model can read.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mailagent/internal/domain"
)

// Category is the extraction route for one attachment.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryDocument
	CategoryImage
	CategoryAudio
)

func (c Category) String() string {
	switch c {
	case CategoryDocument:
		return "document"
	case CategoryImage:
		return "image"
	case CategoryAudio:
		return "audio"
	default:
		return "unsupported"
	}
}

// Classify picks the category of a: PDF by MIME type or extension first,
// then image/*, then audio/*.
func Classify(a domain.Attachment) Category {
	mime := strings.ToLower(a.MimeType)
	switch {
	case strings.Contains(mime, "pdf") || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf"):
		return CategoryDocument
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	default:
		return CategoryUnsupported
	}
}

var (
	fragmentLabel = map[Category]string{
		CategoryDocument: "PDF",
		CategoryImage:    "Image",
		CategoryAudio:    "Audio",
	}
	failurePlaceholder = map[Category]string{
		CategoryDocument: "[Extraction of PDF content failed]",
		CategoryImage:    "[Extraction of image content failed]",
		CategoryAudio:    "[Extraction of audio content failed]",
	}
)

// ExtractorConfig wires a decoder per category. A nil decoder makes every
// attachment of that category extract to its failure placeholder.
type ExtractorConfig struct {
	PDF         domain.AttachmentDecoder
	Image       domain.AttachmentDecoder
	Audio       domain.AttachmentDecoder
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Extractor produces one fragment per attachment.
type Extractor struct {
	decoders map[Category]domain.AttachmentDecoder
	timeout  time.Duration
	logger   *slog.Logger
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	decoders := make(map[Category]domain.AttachmentDecoder, 3)
	for cat, dec := range map[Category]domain.AttachmentDecoder{
		CategoryDocument: cfg.PDF,
		CategoryImage:    cfg.Image,
		CategoryAudio:    cfg.Audio,
	} {
		if dec != nil {
			decoders[cat] = dec
		}
	}
	return &Extractor{
		decoders: decoders,
		timeout:  cfg.CallTimeout,
		logger:   cfg.Logger.With("component", "attachment"),
	}
}

// Extract returns the fragments for atts in their original order. It never
// fails: decoder errors become placeholders.
func (e *Extractor) Extract(ctx context.Context, atts []domain.Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		cat := Classify(a)
		if cat == CategoryUnsupported {
			out = append(out, fmt.Sprintf("[Unsupported attachment %s of type %s]", a.Filename, a.MimeType))
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s) content:\n%s", fragmentLabel[cat], a.Filename, e.decode(ctx, cat, a)))
	}
	return out
}

func (e *Extractor) decode(ctx context.Context, cat Category, a domain.Attachment) string {
	dec, ok := e.decoders[cat]
	if !ok {
		e.logger.Warn("no decoder configured", "category", cat, "filename", a.Filename)
		return failurePlaceholder[cat]
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := dec.Decode(ctx, a.Data, a.MimeType)
	if err != nil {
		e.logger.Error("attachment extraction failed",
			"category", cat,
			"filename", a.Filename,
			"mime", a.MimeType,
			"err", err,
		)
		return failurePlaceholder[cat]
	}
	e.logger.Debug("attachment extracted",
		"category", cat,
		"filename", a.Filename,
		"chars", len(text),
		"duration", time.Since(start),
	)
	return text
}
