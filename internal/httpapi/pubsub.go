package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailagent/internal/domain"
)

// ValidationError reports a malformed request payload.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// pushEnvelope is the Pub/Sub push request body.
type pushEnvelope struct {
	Message *struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// decodeEnvelope parses body and returns the envelope with its base64
// data decoded.
func decodeEnvelope(body []byte) (pushEnvelope, []byte, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, nil, invalid("malformed push envelope: %v", err)
	}
	if env.Message == nil {
		return env, nil, invalid("push envelope has no message")
	}
	if env.Message.Data == "" {
		return env, nil, invalid("push message has no data")
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(env.Message.Data, "="))
	}
	if err != nil {
		return env, nil, invalid("push message data is not valid base64")
	}
	return env, data, nil
}

// decodeNotification decodes a mailbox push into a Notification. historyId
// may be encoded as a JSON string or number.
func decodeNotification(body []byte) (domain.Notification, error) {
	env, data, err := decodeEnvelope(body)
	if err != nil {
		return domain.Notification{}, err
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return domain.Notification{}, invalid("push message data is not valid JSON")
	}

	var historyID string
	switch v := payload["historyId"].(type) {
	case string:
		historyID = strings.TrimSpace(v)
	case json.Number:
		historyID = v.String()
	case nil:
	default:
		return domain.Notification{}, invalid("historyId has unsupported type %T", v)
	}
	if historyID == "" {
		return domain.Notification{}, invalid("decoded payload is missing the required historyId field")
	}

	n := domain.Notification{HistoryID: historyID, DeliveryID: env.Message.MessageID}
	n.EmailAddress, _ = payload["emailAddress"].(string)
	if env.Message.PublishTime != "" {
		t, err := time.Parse(time.RFC3339Nano, env.Message.PublishTime)
		if err != nil {
			return domain.Notification{}, invalid("publishTime is not RFC 3339: %s", env.Message.PublishTime)
		}
		n.PublishTime = t
	}
	return n, nil
}

// objectEvent is the storage finalize notification payload.
type objectEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	TimeCreated string `json:"timeCreated"`
}

func decodeObjectEvent(body []byte) (objectEvent, error) {
	_, data, err := decodeEnvelope(body)
	if err != nil {
		return objectEvent{}, err
	}
	var ev objectEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return objectEvent{}, invalid("push message data is not valid JSON")
	}
	if ev.Bucket == "" || ev.Name == "" {
		return objectEvent{}, invalid("object event needs bucket and name")
	}
	return ev, nil
}
