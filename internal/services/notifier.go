package services

import (
	"context"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/observability"
)

// ChangeNotifier is the mutation-to-event adapter: every accepted write to a
// synced table flows through Publish, which turns it into a change record on
// the owning user's logical channel. Events are ephemeral; nothing is
// persisted, and a disconnected device reconciles with a full pull on
// reconnect.
type ChangeNotifier struct {
	hub     *Hub
	push    *PushService
	metrics *observability.SyncMetrics
}

// NewChangeNotifier creates a notifier fanning out through the hub. push and
// metrics may be nil.
func NewChangeNotifier(hub *Hub, push *PushService, metrics *observability.SyncMetrics) *ChangeNotifier {
	return &ChangeNotifier{hub: hub, push: push, metrics: metrics}
}

// Publish emits a change record for an accepted mutation. originDeviceID is
// excluded from delivery so a device's own write is not echoed back to it;
// pass "" to deliver everywhere.
func (n *ChangeNotifier) Publish(ctx context.Context, event models.ChangeEvent, originDeviceID string) {
	n.hub.BroadcastChange(event, originDeviceID)

	if n.metrics != nil {
		n.metrics.RecordBroadcast(ctx, event.Table, event.Operation)
	}

	// Message events additionally go to the push sink so backgrounded
	// devices without a live connection still get woken up. Fire and forget;
	// push delivery is a downstream concern.
	if n.push != nil && event.Table == "messages" && event.Operation == models.OpCreated {
		go func() {
			if err := n.push.NotifyUser(context.Background(), event.UserID, originDeviceID, "new_message"); err != nil {
				observability.WithField("uid", event.UserID).
					Debugf("push notification failed: %v", err)
			}
		}()
	}
}
