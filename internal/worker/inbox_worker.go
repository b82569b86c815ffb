// Package worker consumes broker messages on behalf of the API process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"coinvest/internal/amqp"
	"coinvest/internal/core"
	applog "coinvest/internal/log"
	"coinvest/internal/notify"
	"coinvest/internal/ports"
)

// Consumer is the subset of the AMQP client the worker drives.
type Consumer interface {
	ConsumeNotifications(ctx context.Context, handler func(context.Context, *amqp.NotificationMessage) error) error
}

// InboxWorker stores published notifications in the recipients' inboxes.
type InboxWorker struct {
	inbox ports.Inbox
	users ports.UserDirectory
	log   *applog.Logger

	stored  atomic.Int64
	dropped atomic.Int64
}

// NewInboxWorker creates a worker. users may be nil, in which case
// recipients are not checked against the directory.
func NewInboxWorker(inbox ports.Inbox, users ports.UserDirectory, logger *applog.Logger) *InboxWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &InboxWorker{
		inbox: inbox,
		users: users,
		log:   logger.WithComponent(applog.ComponentWorker),
	}
}

// Run consumes until ctx is done.
func (w *InboxWorker) Run(ctx context.Context, c Consumer) error {
	w.log.InfoContext(ctx, "Inbox worker started")
	err := c.ConsumeNotifications(ctx, w.HandleNotificationMessage)
	stored, dropped := w.Stats()
	w.log.InfoContext(ctx, "Inbox worker stopped",
		"stored", stored,
		"dropped", dropped)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleNotificationMessage saves one message. Messages that can never be
// stored are dropped with a nil error so the broker does not redeliver them;
// storage failures are returned and the message is requeued.
func (w *InboxWorker) HandleNotificationMessage(ctx context.Context, msg *amqp.NotificationMessage) error {
	if msg == nil || strings.TrimSpace(msg.RecipientID) == "" {
		w.drop(ctx, msg, "missing recipient")
		return nil
	}

	if w.users != nil {
		if _, err := w.users.FindUser(ctx, msg.RecipientID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				w.drop(ctx, msg, "unknown recipient")
				return nil
			}
			return fmt.Errorf("look up recipient %s: %w", msg.RecipientID, err)
		}
	}

	n := toNotification(msg)
	if err := w.inbox.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("save notification for %s: %w", msg.RecipientID, err)
	}
	w.stored.Add(1)

	w.log.DebugContext(ctx, "Notification stored",
		"recipient_id", n.RecipientID,
		"kind", n.Metadata[notify.MetaKind],
		"spending_id", n.Metadata["spending_id"])
	return nil
}

// Stats returns how many messages were stored and dropped so far.
func (w *InboxWorker) Stats() (stored, dropped int64) {
	return w.stored.Load(), w.dropped.Load()
}

func (w *InboxWorker) drop(ctx context.Context, msg *amqp.NotificationMessage, reason string) {
	w.dropped.Add(1)
	args := []any{"reason", reason}
	if msg != nil {
		args = append(args, "recipient_id", msg.RecipientID, "kind", msg.Kind)
	}
	w.log.WarnContext(ctx, "Dropping notification message", args...)
}

func toNotification(msg *amqp.NotificationMessage) ports.Notification {
	meta := make(map[string]string, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	if meta[notify.MetaKind] == "" && msg.Kind != "" {
		meta[notify.MetaKind] = msg.Kind
	}
	at := msg.Timestamp.UTC()
	if msg.Timestamp.IsZero() {
		at = time.Now().UTC()
	}
	return ports.Notification{
		RecipientID: msg.RecipientID,
		Title:       msg.Title,
		Body:        msg.Body,
		Metadata:    meta,
		CreatedAt:   at,
	}
}
