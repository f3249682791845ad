package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/wppsync/internal/bus"
	"google.golang.org/protobuf/types/known/structpb"
)

// PayloadVersion is bumped when the layout of event payloads changes.
const PayloadVersion = 1

// envelope wraps a bus event for WatchEvents. Payloads are converted through
// their JSON form so any event type can be streamed.
func envelope(sessionName string, evt bus.Event) (*structpb.Struct, error) {
	payload, err := payloadValue(evt.Payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id":            structpb.NewStringValue(uuid.New().String()),
		"session":             structpb.NewStringValue(sessionName),
		"kind":                structpb.NewStringValue(evt.Kind),
		"occurred_at_unix_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
		"payload_version":     structpb.NewNumberValue(PayloadVersion),
		"payload":             payload,
	}}, nil
}

func payloadValue(p any) (*structpb.Value, error) {
	switch v := p.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case string:
		return structpb.NewStringValue(v), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return structpb.NewValue(generic)
}
