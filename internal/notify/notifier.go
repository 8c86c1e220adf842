package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Event describes something a user should be told about. SenderID is
// zero for system events such as moderation outcomes.
type Event struct {
	RecipientID int64
	SenderID    int64
	Type        string
	EntityType  string
	EntityID    int64
	Body        string
}

// Notifier writes notification rows and relays them to live
// connections.
type Notifier struct {
	store *Store
	hub   *Hub
	log   *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(store *Store, hub *Hub, log *zap.Logger) *Notifier {
	return &Notifier{store: store, hub: hub, log: log}
}

// Notify records ev and pushes it to the recipient if they are online.
// Events a user causes for themselves are skipped and return nil. The
// push is best-effort: failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, ev Event) (*Notification, error) {
	if ev.RecipientID == 0 || ev.SenderID == ev.RecipientID {
		return nil, nil
	}

	notif := &Notification{
		RecipientID: ev.RecipientID,
		Type:        ev.Type,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		Body:        ev.Body,
	}
	if ev.SenderID != 0 {
		snd, err := n.store.lookupSender(ctx, ev.SenderID)
		if err != nil {
			return nil, err
		}
		notif.Sender = snd
		if notif.Body == "" {
			notif.Body = describe(ev.Type, snd.Username)
		}
	}

	if err := n.store.Insert(ctx, notif); err != nil {
		return nil, err
	}

	sent, err := n.hub.Push(ev.RecipientID, Envelope{Type: EnvelopeNotification, Payload: notif})
	if err != nil {
		n.log.Warn("notification push failed", zap.Int64("notification_id", notif.ID), zap.Error(err))
	} else if sent > 0 {
		n.log.Debug("notification pushed",
			zap.Int64("recipient_id", ev.RecipientID),
			zap.String("type", ev.Type),
			zap.Int("connections", sent))
	}
	return notif, nil
}

// PushMessage relays a direct message to the recipient's live
// connections. Messages are already persisted, so nothing is stored.
func (n *Notifier) PushMessage(recipientID int64, msg any) {
	if _, err := n.hub.Push(recipientID, Envelope{Type: EnvelopeMessage, Payload: msg}); err != nil {
		n.log.Warn("message push failed", zap.Int64("recipient_id", recipientID), zap.Error(err))
	}
}

// describe renders the default inbox text for a notification type.
func describe(typ, username string) string {
	switch typ {
	case TypeVibe:
		return fmt.Sprintf("%s sent you a vibe", username)
	case TypeComment:
		return fmt.Sprintf("%s commented on your post", username)
	case TypeFollow:
		return fmt.Sprintf("%s started following you", username)
	case TypeFollowRequest:
		return fmt.Sprintf("%s requested to follow you", username)
	case TypeFollowAccepted:
		return fmt.Sprintf("%s accepted your follow request", username)
	case TypeMessage:
		return fmt.Sprintf("%s sent you a message", username)
	}
	return username
}
