package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Pusher is the subset of the orchestrator the processor needs.
type Pusher interface {
	Push(ctx context.Context, pool string, n *push.Notification, opts push.Options) push.Result
}

// Pools names the dispatch pools the processor routes into.
type Pools struct {
	FCM string
	Web string
}

// NewProcessor creates the fan-out logic: one inbound NotificationRequest
// becomes one asynchronous push per device. A request that finds no live
// worker is returned as an error so the StreamingService nacks and retries
// it; per-device provider failures are final and only logged.
func NewProcessor(
	pusher Pusher,
	pools Pools,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notification.NotificationRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID.String(),
			"pubsub_msg_id", original.ID,
		)

		onResponse := func(n *push.Notification) {
			if n.Response == push.StatusSuccess {
				procLogger.Debug("Push delivered", "status", n.Response)
				return
			}
			procLogger.Warn("Push not delivered", "status", n.Response, "reason", n.Reason)
		}

		// Path A: FCM (Mobile)
		for _, token := range request.FCMTokens {
			n := &push.Notification{
				Recipient:   request.RecipientID,
				Content:     request.Content,
				Data:        request.DataPayload,
				DeviceToken: token,
			}
			res := pusher.Push(ctx, pools.FCM, n, push.Options{OnResponse: onResponse})
			if res.Status == push.StatusNotStarted {
				return fmt.Errorf("no live worker in pool %s for message %s", pools.FCM, original.ID)
			}
		}

		// Path B: Web (VAPID)
		for i := range request.WebSubscriptions {
			sub := request.WebSubscriptions[i]
			n := &push.Notification{
				Recipient:       request.RecipientID,
				Content:         request.Content,
				Data:            request.DataPayload,
				WebSubscription: &sub,
			}
			res := pusher.Push(ctx, pools.Web, n, push.Options{OnResponse: onResponse})
			if res.Status == push.StatusNotStarted {
				return fmt.Errorf("no live worker in pool %s for message %s", pools.Web, original.ID)
			}
		}

		if len(request.FCMTokens) == 0 && len(request.WebSubscriptions) == 0 {
			procLogger.Info("No devices on request; dropping notification.")
		}

		return nil
	}
}
