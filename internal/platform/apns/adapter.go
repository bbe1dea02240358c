// Package apns provides the dispatch adapter for the Apple Push
// Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
	// Development routes to the sandbox endpoint.
	Development bool
}

// Adapter opens APNs HTTP/2 connections, one per worker.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
}

// NewAdapter validates nothing eagerly; credential parsing happens per
// connection so a worker's init failure carries the real error.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "APNSAdapter"),
	}
}

// Connect builds a token-authenticated HTTP/2 client. Token-based auth
// uses the production endpoint by default; Development switches to the
// sandbox host.
func (a *Adapter) Connect(_ context.Context) (push.Conn, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(a.cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   a.cfg.KeyID,
		TeamID:  a.cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	host := apns2.HostProduction
	if a.cfg.Development {
		client = client.Development()
		host = apns2.HostDevelopment
	}

	return &Conn{
		client: client,
		host:   host,
		topic:  a.cfg.BundleID,
		closer: client.HTTPClient.CloseIdleConnections,
		logger: a.logger,
	}, nil
}

// Conn is one APNs client connection.
type Conn struct {
	client APNSClient
	host   string
	topic  string
	closer func()
	logger *slog.Logger
}

// Push sends one notification. APNs transport errors are fatal to the
// connection; provider rejections are recorded on the notification and the
// connection stays up.
func (c *Conn) Push(_ context.Context, n *push.Notification) error {
	builder := payload.NewPayload().
		AlertTitle(n.Content.Title).
		AlertBody(n.Content.Body).
		Sound(n.Content.Sound)
	for k, v := range n.Data {
		builder.Custom(k, v)
	}

	res, err := c.client.Push(&apns2.Notification{
		DeviceToken: n.DeviceToken,
		Topic:       c.topic,
		Payload:     builder,
	})
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		n.Response = push.StatusSuccess
		return nil
	}

	n.Response = push.StatusFailure
	n.Reason = res.Reason
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		// Dead token; the caller should stop using it.
	default:
		// The token might be fine but our configuration is wrong.
		c.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}
	return nil
}

func (c *Conn) HandleInfo(msg any) error {
	c.logger.Debug("Ignoring unexpected message", "msg", msg)
	return nil
}

// PeerAddress is the APNs ingress host for this connection.
func (c *Conn) PeerAddress() (string, bool) {
	return strings.TrimPrefix(c.host, "https://"), true
}

func (c *Conn) Close() error {
	if c.closer != nil {
		c.closer()
	}
	return nil
}
