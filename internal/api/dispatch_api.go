// Package api exposes the dispatch layer over HTTP: an authenticated push
// endpoint and per-pool worker observability.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Pusher is the orchestrator surface the API needs.
type Pusher interface {
	Push(ctx context.Context, pool string, n *push.Notification, opts push.Options) push.Result
}

// Directory lists the live workers of a pool.
type Directory interface {
	WorkerInfos(ctx context.Context, pool string) []push.WorkerInfo
}

type DispatchAPI struct {
	Pusher    Pusher
	Directory Directory
	Logger    *slog.Logger
}

func NewDispatchAPI(pusher Pusher, directory Directory, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Pusher:    pusher,
		Directory: directory,
		Logger:    logger,
	}
}

type PushRequest struct {
	Pool        string            `json:"pool"`
	Recipient   string            `json:"recipient,omitempty"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Sound       string            `json:"sound,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	DeviceToken string            `json:"device_token"`

	// Sync blocks the request until the provider answered (or the timeout
	// elapsed). The default is asynchronous dispatch.
	Sync      bool  `json:"sync,omitempty"`
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

// PushHandler accepts one notification and dispatches it to the named pool.
func (api *DispatchAPI) PushHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Pool == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing pool")
		return
	}
	if req.DeviceToken == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device_token")
		return
	}

	n := &push.Notification{
		Content: notification.NotificationContent{
			Title: req.Title,
			Body:  req.Body,
			Sound: req.Sound,
		},
		Data:        req.Data,
		DeviceToken: req.DeviceToken,
	}
	if req.Recipient != "" {
		recipient, err := urn.Parse(req.Recipient)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid recipient urn")
			return
		}
		n.Recipient = recipient
	}

	if !req.Sync {
		result := api.Pusher.Push(ctx, req.Pool, n, push.Options{
			OnResponse: func(n *push.Notification) {
				if n.Response != push.StatusSuccess {
					api.Logger.Warn("Async push not delivered", "pool", req.Pool, "status", n.Response, "reason", n.Reason)
				}
			},
		})
		if result.Status == push.StatusNotStarted {
			response.WriteJSONError(w, http.StatusServiceUnavailable, "no live worker in pool")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(result)
		return
	}

	result := api.Pusher.Push(ctx, req.Pool, n, push.Options{
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if result.Status == push.StatusNotStarted {
		response.WriteJSONError(w, http.StatusServiceUnavailable, "no live worker in pool")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// PoolWorkersHandler reports each live worker's peer address and average
// response time for the pool in the path.
func (api *DispatchAPI) PoolWorkersHandler(w http.ResponseWriter, r *http.Request) {
	pool := r.PathValue("pool")
	if pool == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing pool")
		return
	}

	infos := api.Directory.WorkerInfos(r.Context(), pool)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pool":    pool,
		"workers": infos,
	})
}
