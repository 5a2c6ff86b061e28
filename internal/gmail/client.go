// Package gmail implements domain.MessageSource on top of the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"mailagent/internal/domain"
)

const labelUnread = "UNREAD"

// ClientConfig configures the Gmail message source.
type ClientConfig struct {
	Service     *gmailapi.Service
	User        string // API user id; "me" when empty
	Address     string // mailbox address used as reply sender
	Topic       string // Pub/Sub topic for Watch
	WatchLabels []string
	Logger      *slog.Logger
}

// Client reads, labels and replies to messages in one mailbox.
type Client struct {
	svc         *gmailapi.Service
	user        string
	address     string
	topic       string
	watchLabels []string
	logger      *slog.Logger

	mu     sync.Mutex
	labels map[string]string // label name -> id
}

var _ domain.MessageSource = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Service == nil {
		return nil, errors.New("gmail: service is required")
	}
	if cfg.User == "" {
		cfg.User = "me"
	}
	if len(cfg.WatchLabels) == 0 {
		cfg.WatchLabels = []string{labelUnread}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		svc:         cfg.Service,
		user:        cfg.User,
		address:     cfg.Address,
		topic:       cfg.Topic,
		watchLabels: cfg.WatchLabels,
		logger:      cfg.Logger.With("component", "gmail"),
		labels:      make(map[string]string),
	}, nil
}

// FetchDelta lists UNREAD history since cursor, following every page.
func (c *Client) FetchDelta(ctx context.Context, cursor string) (domain.Delta, error) {
	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("gmail: invalid history cursor %q: %w", cursor, err)
	}

	var delta domain.Delta
	var tip uint64
	call := c.svc.Users.History.List(c.user).StartHistoryId(start).LabelId(labelUnread)
	err = call.Pages(ctx, func(resp *gmailapi.ListHistoryResponse) error {
		delta.Records += len(resp.History)
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil && added.Message.Id != "" {
					delta.MessageIDs = append(delta.MessageIDs, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > tip {
			tip = resp.HistoryId
		}
		return nil
	})
	if err != nil {
		return domain.Delta{}, fmt.Errorf("gmail: list history since %s: %w", cursor, err)
	}
	if tip > 0 {
		delta.Cursor = strconv.FormatUint(tip, 10)
	}
	c.logger.Debug("history fetched", "since", cursor, "records", delta.Records, "messages", len(delta.MessageIDs))
	return delta, nil
}

// FetchMessage loads a full message and decodes its body and attachments.
func (c *Client) FetchMessage(ctx context.Context, id string) (*domain.Email, error) {
	msg, err := c.svc.Users.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: get message %s: %w", id, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("gmail: message %s has no payload", id)
	}

	headers := parseHeaders(msg.Payload.Headers)
	if headers.MessageID == "" {
		c.logger.Warn("message has no Message-ID", "id", id, "sender", headers.Sender)
	}

	parsed, err := walkParts(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("gmail: decode message %s: %w", id, err)
	}

	atts := make([]domain.Attachment, 0, len(parsed.attachments))
	for _, ref := range parsed.attachments {
		data := ref.inline
		if ref.attachmentID != "" {
			c.logger.Info("downloading attachment", "id", id, "filename", ref.filename)
			body, err := c.svc.Users.Messages.Attachments.Get(c.user, id, ref.attachmentID).Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("gmail: get attachment %s of %s: %w", ref.filename, id, err)
			}
			data, err = decodeData(body.Data)
			if err != nil {
				return nil, fmt.Errorf("gmail: decode attachment %s of %s: %w", ref.filename, id, err)
			}
		}
		if data == nil {
			continue
		}
		atts = append(atts, domain.Attachment{
			Filename: ref.filename,
			MimeType: ref.mimeType,
			Size:     ref.size,
			Data:     data,
		})
	}

	return domain.NewEmail(msg.Id, msg.ThreadId, headers, parsed.body, atts), nil
}

// Address returns the mailbox address. When none was configured it is read
// from the account profile once and cached.
func (c *Client) Address(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" {
		return c.address, nil
	}
	prof, err := c.svc.Users.GetProfile(c.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: read profile: %w", err)
	}
	if prof.EmailAddress == "" {
		return "", errors.New("gmail: profile has no email address")
	}
	c.address = prof.EmailAddress
	c.logger.Info("mailbox address resolved from profile", "address", c.address)
	return c.address, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := c.svc.Users.Messages.Modify(c.user, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: mark %s read: %w", id, err)
	}
	return nil
}

// LabelThread applies label to every message of the thread and removes UNREAD.
func (c *Client) LabelThread(ctx context.Context, threadID string, label domain.Label) error {
	labelID, err := c.labelID(ctx, label)
	if err != nil {
		return err
	}
	req := &gmailapi.ModifyThreadRequest{
		AddLabelIds:    []string{labelID},
		RemoveLabelIds: []string{labelUnread},
	}
	if _, err := c.svc.Users.Threads.Modify(c.user, threadID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: label thread %s %q: %w", threadID, label.Name, err)
	}
	c.logger.Info("thread labeled", "thread", threadID, "label", label.Name)
	return nil
}

// labelID resolves a label by name, creating it when the mailbox lacks it.
func (c *Client) labelID(ctx context.Context, label domain.Label) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.labels[label.Name]; ok {
		return id, nil
	}

	resp, err := c.svc.Users.Labels.List(c.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: list labels: %w", err)
	}
	for _, l := range resp.Labels {
		if l.Name == label.Name {
			c.labels[label.Name] = l.Id
			return l.Id, nil
		}
	}

	created, err := c.svc.Users.Labels.Create(c.user, &gmailapi.Label{
		Name:                  label.Name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
		Color: &gmailapi.LabelColor{
			BackgroundColor: label.BackgroundColor,
			TextColor:       label.TextColor,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: create label %q: %w", label.Name, err)
	}
	c.logger.Info("label created", "label", label.Name, "label_id", created.Id)
	c.labels[label.Name] = created.Id
	return created.Id, nil
}

// SendReply sends text as a reply in the thread of original.
func (c *Client) SendReply(ctx context.Context, original *domain.Email, text string) error {
	from, err := c.Address(ctx)
	if err != nil {
		return err
	}
	raw, err := buildReply(from, original.Headers(), text)
	if err != nil {
		return fmt.Errorf("gmail: build reply to %s: %w", original.ID(), err)
	}
	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: original.ThreadID(),
	}
	sent, err := c.svc.Users.Messages.Send(c.user, msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: send reply in thread %s: %w", original.ThreadID(), err)
	}
	c.logger.Info("reply sent", "thread", original.ThreadID(), "message", sent.Id)
	return nil
}

// Watch (re)establishes the push subscription on the configured topic.
func (c *Client) Watch(ctx context.Context) (domain.WatchResult, error) {
	if c.topic == "" {
		return domain.WatchResult{}, errors.New("gmail: watch topic is not configured")
	}
	resp, err := c.svc.Users.Watch(c.user, &gmailapi.WatchRequest{
		LabelIds:  c.watchLabels,
		TopicName: c.topic,
	}).Context(ctx).Do()
	if err != nil {
		return domain.WatchResult{}, fmt.Errorf("gmail: watch %s: %w", c.topic, err)
	}

	var res domain.WatchResult
	if resp.HistoryId > 0 {
		res.Cursor = strconv.FormatUint(resp.HistoryId, 10)
	}
	if resp.Expiration > 0 {
		res.Expiration = time.UnixMilli(resp.Expiration).UTC()
	}
	c.logger.Info("watch renewed", "history_id", res.Cursor, "expiration", res.Expiration)
	return res, nil
}

func parseHeaders(hs []*gmailapi.MessagePartHeader) domain.EmailHeaders {
	var h domain.EmailHeaders
	for _, hdr := range hs {
		switch {
		case strings.EqualFold(hdr.Name, "Date"):
			h.Date = hdr.Value
		case strings.EqualFold(hdr.Name, "Subject"):
			h.Subject = hdr.Value
		case strings.EqualFold(hdr.Name, "From"):
			h.Sender = hdr.Value
		case strings.EqualFold(hdr.Name, "Message-ID"):
			h.MessageID = hdr.Value
		}
	}
	return h
}
