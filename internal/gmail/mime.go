package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	gmailapi "google.golang.org/api/gmail/v1"

	"mailagent/internal/domain"
)

type attachmentRef struct {
	filename     string
	mimeType     string
	size         int64
	attachmentID string
	inline       []byte
}

type parsedParts struct {
	body        string
	attachments []attachmentRef
}

// walkParts visits the MIME tree depth-first in document order. text/plain
// parts that are not attachments make up the body; parts with a filename
// are attachments.
func walkParts(root *gmailapi.MessagePart) (parsedParts, error) {
	var out parsedParts
	var body strings.Builder

	stack := []*gmailapi.MessagePart{root}
	if len(root.Parts) > 0 {
		stack = reversed(root.Parts)
	}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if part == nil {
			continue
		}

		var data, attID string
		var size int64
		if part.Body != nil {
			data, attID, size = part.Body.Data, part.Body.AttachmentId, part.Body.Size
		}

		if part.MimeType == "text/plain" && !isAttachment(part.Headers) && data != "" {
			text, err := decodeData(data)
			if err != nil {
				return parsedParts{}, fmt.Errorf("text part: %w", err)
			}
			body.Write(text)
		}

		if part.Filename != "" {
			ref := attachmentRef{
				filename:     part.Filename,
				mimeType:     part.MimeType,
				size:         size,
				attachmentID: attID,
			}
			if attID == "" && data != "" {
				inline, err := decodeData(data)
				if err != nil {
					return parsedParts{}, fmt.Errorf("attachment %s: %w", part.Filename, err)
				}
				ref.inline = inline
			}
			out.attachments = append(out.attachments, ref)
		}

		stack = append(stack, reversed(part.Parts)...)
	}

	out.body = body.String()
	return out, nil
}

func reversed(parts []*gmailapi.MessagePart) []*gmailapi.MessagePart {
	out := make([]*gmailapi.MessagePart, len(parts))
	for i, p := range parts {
		out[len(parts)-1-i] = p
	}
	return out
}

func isAttachment(headers []*gmailapi.MessagePartHeader) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Disposition") {
			return strings.Contains(strings.ToLower(h.Value), "attachment")
		}
	}
	return false
}

// decodeData decodes Gmail's base64url payloads, padded or not.
func decodeData(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// buildReply renders an RFC 5322 plain-text reply to the message described
// by orig.
func buildReply(from string, orig domain.EmailHeaders, text string) ([]byte, error) {
	to := domain.ExtractAddress(orig.Sender)
	if to == "" {
		return nil, fmt.Errorf("original message has no sender")
	}

	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}
	if from != "" {
		writeHeader("From", from)
	}
	writeHeader("To", to)
	writeHeader("Subject", encodeHeader(subject))
	if orig.MessageID != "" {
		writeHeader("In-Reply-To", orig.MessageID)
		writeHeader("References", orig.MessageID)
	}
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/plain; charset="utf-8"`)
	writeHeader("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeHeader(v string) string {
	for _, r := range v {
		if r >= utf8.RuneSelf {
			return mime.QEncoding.Encode("utf-8", v)
		}
	}
	return v
}
