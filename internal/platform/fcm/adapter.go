// Package fcm provides the dispatch adapter for Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Config identifies the Firebase project.
type Config struct {
	ProjectID string
}

// Adapter opens FCM messaging clients, one per worker.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "FCMAdapter"),
	}
}

func (a *Adapter) Connect(ctx context.Context) (push.Conn, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: a.cfg.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	return &Conn{client: client, logger: a.logger}, nil
}

// Conn is one FCM messaging client.
type Conn struct {
	client MessagingClient
	logger *slog.Logger
}

func (c *Conn) Push(ctx context.Context, n *push.Notification) error {
	msg := &messaging.Message{
		Token: n.DeviceToken,
		Data:  n.Data,
		Notification: &messaging.Notification{
			Title: n.Content.Title,
			Body:  n.Content.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Content.Title,
				Body:  n.Content.Body,
				Icon:  "/assets/icons/icon-192x192.png",
			},
		},
	}

	_, err := c.client.Send(ctx, msg)
	if err == nil {
		n.Response = push.StatusSuccess
		return nil
	}

	// Token-level rejections are final for this notification but say
	// nothing about the connection.
	if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
		n.Response = push.StatusFailure
		n.Reason = err.Error()
		return nil
	}

	// Network or auth failure; the supervisor reconnects.
	return fmt.Errorf("fcm transport failed: %w", err)
}

func (c *Conn) HandleInfo(msg any) error {
	c.logger.Debug("Ignoring unexpected message", "msg", msg)
	return nil
}

func (c *Conn) PeerAddress() (string, bool) {
	return "fcm.googleapis.com:443", true
}

func (c *Conn) Close() error {
	return nil
}
