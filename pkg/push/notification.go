// Package push contains the public contracts and domain models for the
// dispatch layer: the Notification envelope, push results, and the Adapter
// capability implemented per provider.
package push

import (
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Status is the response slot of a Notification.
type Status string

const (
	// StatusUnset means the push has not completed yet.
	StatusUnset Status = ""
	// StatusSuccess means the provider accepted the notification.
	StatusSuccess Status = "success"
	// StatusFailure means the provider rejected the notification.
	StatusFailure Status = "failure"
	// StatusTimeout means the caller stopped waiting before a result arrived.
	// The underlying adapter operation may still be running.
	StatusTimeout Status = "timeout"
	// StatusNotStarted means no live worker was available to accept the push.
	StatusNotStarted Status = "not_started"
)

// Notification is one outbound push. The caller owns the payload fields;
// the metadata fields (Token, Response, Reason, OnComplete) belong to the
// orchestration protocol for the duration of a single push and must not be
// touched by the caller while the push is in flight.
type Notification struct {
	Recipient urn.URN
	Content   notification.NotificationContent
	Data      map[string]string

	// DeviceToken is the APNs/FCM destination. WebSubscription is the
	// Web Push destination. An adapter reads whichever it needs.
	DeviceToken     string
	WebSubscription *notification.WebPushSubscription

	// Token correlates a synchronous push with its eventual result.
	Token string
	// Response is set by the adapter once the provider answered.
	Response Status
	// Reason carries the provider's rejection detail on failure.
	Reason string
	// OnComplete is invoked exactly once by the owning worker when the
	// result is known. It runs on the worker's goroutine.
	OnComplete func(*Notification)
}

// Complete fires the completion trigger, defaulting an unset response slot
// to success. Called by the worker after the adapter returned.
func (n *Notification) Complete() {
	if n.Response == StatusUnset {
		n.Response = StatusSuccess
	}
	if n.OnComplete != nil {
		n.OnComplete(n)
	}
}

// WorkerInfo is the observable state of one worker: where its connection
// points and how fast that peer has been answering.
type WorkerInfo struct {
	WorkerID     string `json:"worker_id"`
	PeerAddress  string `json:"peer_address"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// Result is what a caller gets back from a push. Operational conditions
// (no worker, timeout) are values here, never errors: the caller-facing
// contract is uniform between delivery, remote failure and no-answer.
type Result struct {
	Status         Status     `json:"status"`
	WorkerID       string     `json:"worker_id,omitempty"`
	Worker         WorkerInfo `json:"worker,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms"`

	// Notification is the completed envelope. Nil for timeout results,
	// where the worker may still be writing to it.
	Notification *Notification `json:"-"`
}

// DynamicTimeout asks the orchestrator to derive the synchronous wait from
// the chosen worker's current average latency (2x the average).
const DynamicTimeout time.Duration = 0

// Options controls a single push call.
type Options struct {
	// OnResponse switches the push to asynchronous mode: the call returns
	// immediately and the callback receives the completed Notification.
	// The callback runs on the worker's goroutine and must not block.
	OnResponse func(*Notification)

	// Timeout bounds the synchronous wait. DynamicTimeout (the zero value)
	// derives it from the worker's latency estimate. Ignored in
	// asynchronous mode.
	Timeout time.Duration
}
