// Package notify holds the Notifier implementations used by the approval
// engine. Every implementation is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"fmt"
	"time"

	"coinvest/internal/amqp"
	"coinvest/internal/ports"
)

// MetaKind is the metadata key carrying the notification kind.
const MetaKind = "kind"

// Publisher is the subset of the AMQP client the notifier needs.
type Publisher interface {
	PublishNotification(ctx context.Context, msg *amqp.NotificationMessage) error
}

var (
	_ ports.Notifier = (*AMQPNotifier)(nil)
	_ ports.Notifier = (*InboxNotifier)(nil)
)

// AMQPNotifier publishes notifications for the inbox worker.
type AMQPNotifier struct {
	pub Publisher
}

func NewAMQPNotifier(pub Publisher) *AMQPNotifier {
	return &AMQPNotifier{pub: pub}
}

func (n *AMQPNotifier) Notify(ctx context.Context, note ports.Notification) (bool, error) {
	msg := amqp.NewNotificationMessage(note.RecipientID, note.Metadata[MetaKind], note.Title, note.Body, note.Metadata)
	if !note.CreatedAt.IsZero() {
		msg.Timestamp = note.CreatedAt
	}
	if err := n.pub.PublishNotification(ctx, msg); err != nil {
		return false, fmt.Errorf("publish notification: %w", err)
	}
	return true, nil
}

// InboxNotifier writes straight into an Inbox. Used when no broker is configured.
type InboxNotifier struct {
	inbox ports.Inbox
}

func NewInboxNotifier(inbox ports.Inbox) *InboxNotifier {
	return &InboxNotifier{inbox: inbox}
}

func (n *InboxNotifier) Notify(ctx context.Context, note ports.Notification) (bool, error) {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if err := n.inbox.SaveNotification(ctx, note); err != nil {
		return false, fmt.Errorf("save notification: %w", err)
	}
	return true, nil
}
