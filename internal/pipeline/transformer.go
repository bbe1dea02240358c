// Package pipeline contains the streaming ingestion components: the
// transformer that decodes inbound Pub/Sub payloads and the processor that
// routes them into the dispatch pools.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NotificationRequestTransformer safely unmarshals and validates a raw
// message payload into a structured notification.NotificationRequest.
//
// It uses standard encoding/json, relying on the native struct's
// UnmarshalJSON implementation to handle deserialization and validation
// (e.g. URN parsing) internally.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.NotificationRequest, bool, error) {
	var nativeReq notification.NotificationRequest

	if err := json.Unmarshal(msg.Payload, &nativeReq); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}

	return &nativeReq, false, nil
}
