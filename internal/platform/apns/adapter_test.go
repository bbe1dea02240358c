package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func newTestConn(client APNSClient) *Conn {
	return &Conn{
		client: client,
		host:   apns2.HostProduction,
		topic:  "com.test.app",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestConnPush(t *testing.T) {
	ctx := context.Background()
	content := notification.NotificationContent{Title: "Hello iOS", Body: "body"}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		conn := newTestConn(mockClient)

		mockResponse := &apns2.Response{StatusCode: http.StatusOK}
		mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(mockResponse, nil)

		n := &push.Notification{Content: content, DeviceToken: "token-1", Data: map[string]string{"msg_id": "123"}}
		err := conn.Push(ctx, n)

		require.NoError(t, err)
		assert.Equal(t, push.StatusSuccess, n.Response)
		mockClient.AssertExpectations(t)
	})

	t.Run("Bad device token - failure recorded, connection survives", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		conn := newTestConn(mockClient)

		mockClient.On("Push", mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil)

		n := &push.Notification{Content: content, DeviceToken: "bad-token"}
		err := conn.Push(ctx, n)

		require.NoError(t, err)
		assert.Equal(t, push.StatusFailure, n.Response)
		assert.Equal(t, apns2.ReasonBadDeviceToken, n.Reason)
	})

	t.Run("Transport failure is fatal", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		conn := newTestConn(mockClient)

		mockClient.On("Push", mock.Anything).Return(nil, errors.New("connection refused"))

		err := conn.Push(ctx, &push.Notification{Content: content, DeviceToken: "token-1"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "apns transport failed")
	})
}

func TestConnPeerAddress(t *testing.T) {
	conn := newTestConn(new(MockAPNSClient))

	addr, ok := conn.PeerAddress()

	assert.True(t, ok)
	assert.Equal(t, "api.push.apple.com", addr)
}

func TestAdapterConnect(t *testing.T) {
	t.Run("Bad P8 key fails init", func(t *testing.T) {
		adapter := NewAdapter(Config{P8KeyContent: "not-a-key"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

		_, err := adapter.Connect(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse APNs P8 key")
	})
}
