// Package web provides the dispatch adapter for VAPID Web Push.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Config holds the VAPID signing keys.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Adapter opens Web Push connections. Web Push has no single remote peer
// (every subscription names its own push service endpoint), so connections
// report no peer address and duplicate suppression is skipped for them.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "WebPushAdapter"),
	}
}

func (a *Adapter) Connect(_ context.Context) (push.Conn, error) {
	return &Conn{
		subscriber: a.cfg.SubscriberEmail,
		privateKey: a.cfg.PrivateKey,
		publicKey:  a.cfg.PublicKey,
		httpClient: &http.Client{},
		logger:     a.logger,
	}, nil
}

// Conn sends Web Push messages with one shared HTTP client.
type Conn struct {
	subscriber string
	privateKey string
	publicKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

func (c *Conn) Push(_ context.Context, n *push.Notification) error {
	if n.WebSubscription == nil {
		n.Response = push.StatusFailure
		n.Reason = "no web subscription on notification"
		return nil
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": n.Content.Title,
			"body":  n.Content.Body,
		},
		"data": n.Data,
	})
	if err != nil {
		n.Response = push.StatusFailure
		n.Reason = fmt.Sprintf("failed to marshal payload: %v", err)
		return nil
	}

	sub := &webpush.Subscription{
		Endpoint: n.WebSubscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(n.WebSubscription.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(n.WebSubscription.Keys.Auth),
		},
	}

	resp, err := webpush.SendNotification(payloadBytes, sub, &webpush.Options{
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.publicKey,
		VAPIDPrivateKey: c.privateKey,
		TTL:             60,
		HTTPClient:      c.httpClient,
	})
	if err != nil {
		// Endpoints are per-subscription; a transport error here says
		// nothing about other subscriptions, so the connection survives.
		c.logger.Error("WebPush transport error", "endpoint", n.WebSubscription.Endpoint, "err", err)
		n.Response = push.StatusFailure
		n.Reason = err.Error()
		return nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		n.Response = push.StatusSuccess
	case http.StatusGone, http.StatusNotFound:
		// Subscription is dead; the caller should stop using it.
		n.Response = push.StatusFailure
		n.Reason = fmt.Sprintf("subscription gone (status %d)", resp.StatusCode)
	default:
		c.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", n.WebSubscription.Endpoint)
		n.Response = push.StatusFailure
		n.Reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *Conn) HandleInfo(msg any) error {
	c.logger.Debug("Ignoring unexpected message", "msg", msg)
	return nil
}

func (c *Conn) PeerAddress() (string, bool) {
	return "", false
}

func (c *Conn) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
