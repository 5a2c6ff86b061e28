package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

// fakeGmail serves the subset of the Gmail REST API the client uses.
type fakeGmail struct {
	t   *testing.T
	mux *http.ServeMux

	mu            sync.Mutex
	labelsCreated int32
	profileCalls  int32
	labelLists    int32
	threadModify  map[string]any
	messageModify map[string]any
	sentRaw       string
	sentThread    string
	watchReq      map[string]any
}

func newFakeGmail(t *testing.T) (*fakeGmail, *Client) {
	f := &fakeGmail{t: t, mux: http.NewServeMux()}
	f.routes()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	svc, err := gmailapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	c, err := NewClient(ClientConfig{
		Service: svc,
		Address: "support@shop.test",
		Topic:   "projects/p/topics/gmail",
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	return f, c
}

func (f *fakeGmail) decode(r *http.Request) map[string]any {
	var body map[string]any
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func (f *fakeGmail) routes() {
	const base = "/gmail/v1/users/me"

	f.mux.HandleFunc("GET "+base+"/profile", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.profileCalls, 1)
		writeJSON(f.t, w, map[string]any{"emailAddress": "helpdesk@shop.test", "historyId": "99"})
	})

	f.mux.HandleFunc("GET "+base+"/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(f.t, "100", q.Get("startHistoryId"))
		assert.Equal(f.t, "UNREAD", q.Get("labelId"))
		if q.Get("pageToken") == "" {
			writeJSON(f.t, w, map[string]any{
				"history": []any{
					map[string]any{"id": "101", "messagesAdded": []any{
						map[string]any{"message": map[string]any{"id": "m1", "threadId": "t1"}},
					}},
				},
				"nextPageToken": "page-2",
				"historyId":     "150",
			})
			return
		}
		assert.Equal(f.t, "page-2", q.Get("pageToken"))
		writeJSON(f.t, w, map[string]any{
			"history": []any{
				map[string]any{"id": "102", "messagesAdded": []any{
					map[string]any{"message": map[string]any{"id": "m2"}},
					map[string]any{"message": map[string]any{"id": "m1"}},
				}},
				map[string]any{"id": "103"},
			},
			"historyId": "155",
		})
	})

	f.mux.HandleFunc("GET "+base+"/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "full", r.URL.Query().Get("format"))
		writeJSON(f.t, w, map[string]any{
			"id":       "m1",
			"threadId": "t1",
			"payload": map[string]any{
				"mimeType": "multipart/mixed",
				"headers": []any{
					map[string]any{"name": "From", "value": "Jane <jane@example.com>"},
					map[string]any{"name": "Subject", "value": "Refund question"},
					map[string]any{"name": "Date", "value": "Mon, 2 Jun 2025 10:00:00 +0000"},
					map[string]any{"name": "Message-ID", "value": "<abc@mail.example.com>"},
				},
				"parts": []any{
					map[string]any{
						"mimeType": "multipart/alternative",
						"parts": []any{
							map[string]any{"mimeType": "text/plain", "body": map[string]any{"data": b64("Hello, ")}},
							map[string]any{"mimeType": "text/html", "body": map[string]any{"data": b64("<p>Hello</p>")}},
						},
					},
					map[string]any{"mimeType": "text/plain", "body": map[string]any{"data": b64("can I get a refund?")}},
					map[string]any{
						"mimeType": "text/plain",
						"filename": "notes.txt",
						"headers":  []any{map[string]any{"name": "Content-Disposition", "value": "attachment; filename=notes.txt"}},
						"body":     map[string]any{"data": b64("inline attachment")},
					},
					map[string]any{
						"mimeType": "application/pdf",
						"filename": "invoice.pdf",
						"body":     map[string]any{"attachmentId": "att1"},
					},
				},
			},
		})
	})

	f.mux.HandleFunc("GET "+base+"/messages/m1/attachments/att1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(f.t, w, map[string]any{"data": strings.TrimRight(b64("%PDF-1.4 bytes"), "=")})
	})

	f.mux.HandleFunc("GET "+base+"/messages/nomid", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(f.t, w, map[string]any{
			"id":       "nomid",
			"threadId": "t9",
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers":  []any{map[string]any{"name": "from", "value": "bot@example.com"}},
				"body":     map[string]any{"data": b64("single part")},
			},
		})
	})

	f.mux.HandleFunc("POST "+base+"/messages/m1/modify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.messageModify = f.decode(r)
		f.mu.Unlock()
		writeJSON(f.t, w, map[string]any{"id": "m1"})
	})

	f.mux.HandleFunc("GET "+base+"/labels", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.labelLists, 1)
		writeJSON(f.t, w, map[string]any{"labels": []any{
			map[string]any{"id": "INBOX", "name": "INBOX"},
			map[string]any{"id": "Label_7", "name": "Irrelevant"},
		}})
	})

	f.mux.HandleFunc("POST "+base+"/labels", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.labelsCreated, 1)
		body := f.decode(r)
		assert.Equal(f.t, "Answered by Agent", body["name"])
		assert.Equal(f.t, "labelShow", body["labelListVisibility"])
		assert.Equal(f.t, map[string]any{"backgroundColor": "#16a766", "textColor": "#ffffff"}, body["color"])
		writeJSON(f.t, w, map[string]any{"id": "Label_9", "name": body["name"]})
	})

	f.mux.HandleFunc("POST "+base+"/threads/t1/modify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.threadModify = f.decode(r)
		f.mu.Unlock()
		writeJSON(f.t, w, map[string]any{"id": "t1"})
	})

	f.mux.HandleFunc("POST "+base+"/messages/send", func(w http.ResponseWriter, r *http.Request) {
		body := f.decode(r)
		f.mu.Lock()
		f.sentRaw, _ = body["raw"].(string)
		f.sentThread, _ = body["threadId"].(string)
		f.mu.Unlock()
		writeJSON(f.t, w, map[string]any{"id": "sent-1", "threadId": body["threadId"]})
	})

	f.mux.HandleFunc("POST "+base+"/watch", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.watchReq = f.decode(r)
		f.mu.Unlock()
		writeJSON(f.t, w, map[string]any{"historyId": "4242", "expiration": "1767225600000"})
	})
}

func TestFetchDelta_FollowsPages(t *testing.T) {
	_, c := newFakeGmail(t)

	delta, err := c.FetchDelta(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m1"}, delta.MessageIDs)
	assert.Equal(t, 3, delta.Records)
	assert.Equal(t, "155", delta.Cursor)
}

func TestFetchDelta_InvalidCursor(t *testing.T) {
	_, c := newFakeGmail(t)
	_, err := c.FetchDelta(context.Background(), "not-a-number")
	assert.ErrorContains(t, err, "invalid history cursor")
}

func TestFetchMessage_WalksParts(t *testing.T) {
	_, c := newFakeGmail(t)

	email, err := c.FetchMessage(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "m1", email.ID())
	assert.Equal(t, "t1", email.ThreadID())
	h := email.Headers()
	assert.Equal(t, "Jane <jane@example.com>", h.Sender)
	assert.Equal(t, "Refund question", h.Subject)
	assert.Equal(t, "<abc@mail.example.com>", h.MessageID)
	assert.Equal(t, "Mon, 2 Jun 2025 10:00:00 +0000", h.Date)

	// The html alternative and the text attachment are not part of the body.
	assert.Equal(t, "Hello, can I get a refund?", email.Body())

	atts := email.Attachments()
	require.Len(t, atts, 2)
	assert.Equal(t, "notes.txt", atts[0].Filename)
	assert.Equal(t, "inline attachment", string(atts[0].Data))
	assert.Equal(t, "invoice.pdf", atts[1].Filename)
	assert.Equal(t, "application/pdf", atts[1].MimeType)
	assert.Equal(t, "%PDF-1.4 bytes", string(atts[1].Data))
}

func TestFetchMessage_SinglePartWithoutMessageID(t *testing.T) {
	_, c := newFakeGmail(t)

	email, err := c.FetchMessage(context.Background(), "nomid")
	require.NoError(t, err)
	assert.Equal(t, "", email.Headers().MessageID)
	assert.Equal(t, "bot@example.com", email.Headers().Sender)
	assert.Equal(t, "single part", email.Body())
	assert.Empty(t, email.Attachments())
}

func TestFetchMessage_NotFound(t *testing.T) {
	_, c := newFakeGmail(t)
	_, err := c.FetchMessage(context.Background(), "missing")
	assert.ErrorContains(t, err, "get message missing")
}

func TestMarkRead(t *testing.T) {
	f, c := newFakeGmail(t)
	require.NoError(t, c.MarkRead(context.Background(), "m1"))
	assert.Equal(t, []any{"UNREAD"}, f.messageModify["removeLabelIds"])
}

func TestLabelThread_CreatesAndCachesLabel(t *testing.T) {
	f, c := newFakeGmail(t)
	ctx := context.Background()

	require.NoError(t, c.LabelThread(ctx, "t1", domain.LabelAnswered))
	assert.Equal(t, []any{"Label_9"}, f.threadModify["addLabelIds"])
	assert.Equal(t, []any{"UNREAD"}, f.threadModify["removeLabelIds"])

	require.NoError(t, c.LabelThread(ctx, "t1", domain.LabelAnswered))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.labelsCreated))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.labelLists))
}

func TestLabelThread_ExistingLabel(t *testing.T) {
	f, c := newFakeGmail(t)

	require.NoError(t, c.LabelThread(context.Background(), "t1", domain.LabelIrrelevant))
	assert.Equal(t, []any{"Label_7"}, f.threadModify["addLabelIds"])
	assert.EqualValues(t, 0, atomic.LoadInt32(&f.labelsCreated))
}

func TestSendReply(t *testing.T) {
	f, c := newFakeGmail(t)

	orig := domain.NewEmail("m1", "t1", domain.EmailHeaders{
		MessageID: "<abc@mail.example.com>",
		Subject:   "Refund question",
		Sender:    "Jane <jane@example.com>",
	}, "can I get a refund?", nil)

	require.NoError(t, c.SendReply(context.Background(), orig, "Refunds take 30 days."))
	assert.Equal(t, "t1", f.sentThread)

	raw, err := base64.URLEncoding.DecodeString(f.sentRaw)
	require.NoError(t, err)
	msg := string(raw)
	assert.Contains(t, msg, "To: jane@example.com\r\n")
	assert.Contains(t, msg, "From: support@shop.test\r\n")
	assert.Contains(t, msg, "Subject: Re: Refund question\r\n")
	assert.Contains(t, msg, "In-Reply-To: <abc@mail.example.com>\r\n")
	assert.Contains(t, msg, "References: <abc@mail.example.com>\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nRefunds take 30 days."))
}

func TestWatch(t *testing.T) {
	f, c := newFakeGmail(t)

	res, err := c.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4242", res.Cursor)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), res.Expiration)
	assert.Equal(t, []any{"UNREAD"}, f.watchReq["labelIds"])
	assert.Equal(t, "projects/p/topics/gmail", f.watchReq["topicName"])
}

func TestWatch_RequiresTopic(t *testing.T) {
	_, c := newFakeGmail(t)
	c.topic = ""
	_, err := c.Watch(context.Background())
	assert.ErrorContains(t, err, "topic")
}

func TestNewClient_RequiresService(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestClient_AddressFromProfile(t *testing.T) {
	f, configured := newFakeGmail(t)

	addr, err := configured.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "support@shop.test", addr)
	assert.Zero(t, atomic.LoadInt32(&f.profileCalls), "configured address wins")

	bare, err := NewClient(ClientConfig{Service: configured.svc, Logger: testLogger()})
	require.NoError(t, err)
	for range 2 {
		addr, err = bare.Address(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "helpdesk@shop.test", addr)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.profileCalls), "profile is read once")
}
