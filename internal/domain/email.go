package domain

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// EmailHeaders holds the subset of RFC 5322 headers the agent works with.
type EmailHeaders struct {
	MessageID string
	Date      string
	Subject   string
	Sender    string
}

// Attachment is a decoded attachment of an inbound email.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
	Data     []byte
}

// Email is an inbound message parsed once per notification. It is never
// mutated after construction; accessors hand out copies.
type Email struct {
	id          string
	threadID    string
	headers     EmailHeaders
	body        string
	attachments []Attachment
}

// NewEmail builds an immutable Email. The attachment slice is copied.
func NewEmail(id, threadID string, headers EmailHeaders, body string, attachments []Attachment) *Email {
	atts := make([]Attachment, len(attachments))
	copy(atts, attachments)
	return &Email{
		id:          id,
		threadID:    threadID,
		headers:     headers,
		body:        body,
		attachments: atts,
	}
}

func (e *Email) ID() string            { return e.id }
func (e *Email) ThreadID() string      { return e.threadID }
func (e *Email) Headers() EmailHeaders { return e.headers }
func (e *Email) Body() string          { return e.body }

// Attachments returns a copy of the attachments in their original order.
func (e *Email) Attachments() []Attachment {
	out := make([]Attachment, len(e.attachments))
	copy(out, e.attachments)
	return out
}

// Notification is a decoded push notification from the mailbox watch.
type Notification struct {
	EmailAddress string
	HistoryID    string
	DeliveryID   string
	PublishTime  time.Time
}

// Delta is the result of a history query since a cursor.
type Delta struct {
	// MessageIDs lists added message ids across all history records, in
	// record order. The same id may appear more than once.
	MessageIDs []string
	// Records is the number of history records returned.
	Records int
	// Cursor is the server-reported tip after the query.
	Cursor string
}

// Label is a mailbox label applied to handled threads.
type Label struct {
	Name            string
	BackgroundColor string
	TextColor       string
}

var (
	LabelAnswered   = Label{Name: "Answered by Agent", BackgroundColor: "#16a766", TextColor: "#ffffff"}
	LabelIrrelevant = Label{Name: "Irrelevant", BackgroundColor: "#cc3a21", TextColor: "#ffffff"}
)

// WatchResult is returned when the upstream subscription is (re)established.
type WatchResult struct {
	Cursor     string
	Expiration time.Time
}

// MessageSource is the mailbox the agent reads from and replies through.
type MessageSource interface {
	FetchDelta(ctx context.Context, cursor string) (Delta, error)
	FetchMessage(ctx context.Context, id string) (*Email, error)
	MarkRead(ctx context.Context, id string) error
	LabelThread(ctx context.Context, threadID string, label Label) error
	SendReply(ctx context.Context, original *Email, text string) error
	Watch(ctx context.Context) (WatchResult, error)
}

var angleAddr = regexp.MustCompile(`<(.*?)>`)

// ExtractAddress returns the address inside angle brackets of a From-style
// header value, or the whole trimmed value when there are none.
func ExtractAddress(from string) string {
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(from)
}
