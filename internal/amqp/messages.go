package amqp

import (
	"encoding/json"
	"time"
)

// NotificationMessage carries one approval-engine notification to the
// inbox worker.
type NotificationMessage struct {
	RecipientID string            `json:"recipient_id"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewNotificationMessage creates a message stamped with the current time.
func NewNotificationMessage(recipientID, kind, title, body string, metadata map[string]string) *NotificationMessage {
	return &NotificationMessage{
		RecipientID: recipientID,
		Kind:        kind,
		Title:       title,
		Body:        body,
		Metadata:    metadata,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON creates a message from JSON bytes
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
