package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter creates one OpenTelemetry span per event. Mirrors the
// teacher's OTelEmitter (graph/emit/otel.go): span name is the event type,
// room/payload become attributes, and an "error" payload key sets error
// span status.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(ctx context.Context, room, eventType string, payload map[string]interface{}) error {
	_, span := o.tracer.Start(ctx, eventType)
	defer span.End()

	span.SetAttributes(attribute.String("flowruntime.room", room))
	for k, v := range payload {
		span.SetAttributes(attribute.String("flowruntime.payload."+k, fmt.Sprintf("%v", v)))
	}

	if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
	return nil
}
