// Package metrics exports pipeline counters through the OpenTelemetry
// metric API and, optionally, to InfluxDB.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "sentinel-edge-go/internal/metrics"

// Snapshot is a flat view of the pipeline counters
type Snapshot struct {
	FramesCaptured   uint64
	FramesDropped    uint64
	FramesInferred   uint64
	InferenceErrors  uint64
	ViolenceDetected uint64
	EventsAssembled  uint64
	EventsSent       uint64
	EventsFailed     uint64
	FrameQueueLen    int
	ResultQueueLen   int
	OutboundQueueLen int
}

// SnapshotFunc reads the current counters
type SnapshotFunc func() Snapshot

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type counterSpec struct {
	name        string
	description string
	value       func(Snapshot) uint64
}

var counterSpecs = []counterSpec{
	{"sentinel.frames.captured", "Frames read from the capture source", func(s Snapshot) uint64 { return s.FramesCaptured }},
	{"sentinel.frames.dropped", "Frames dropped because the frame queue was full", func(s Snapshot) uint64 { return s.FramesDropped }},
	{"sentinel.frames.inferred", "Frames run through the detection model", func(s Snapshot) uint64 { return s.FramesInferred }},
	{"sentinel.inference.errors", "Frames skipped after a model failure", func(s Snapshot) uint64 { return s.InferenceErrors }},
	{"sentinel.violence.detected", "Frames with a positive violence decision", func(s Snapshot) uint64 { return s.ViolenceDetected }},
	{"sentinel.events.assembled", "Event records built", func(s Snapshot) uint64 { return s.EventsAssembled }},
	{"sentinel.events.sent", "Events accepted by the sink", func(s Snapshot) uint64 { return s.EventsSent }},
	{"sentinel.events.failed", "Events dropped after exhausting retries", func(s Snapshot) uint64 { return s.EventsFailed }},
}

// Register creates observable instruments over fn on the global meter
// provider. Without an installed provider they are no-ops.
func Register(deviceID string, fn SnapshotFunc) (metric.Registration, error) {
	m := meter()
	attrs := metric.WithAttributes(attribute.String("device_id", deviceID))

	counters := make([]metric.Int64ObservableCounter, len(counterSpecs))
	instruments := make([]metric.Observable, 0, len(counterSpecs)+1)
	for i, spec := range counterSpecs {
		c, err := m.Int64ObservableCounter(spec.name, metric.WithDescription(spec.description))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", spec.name, err)
		}
		counters[i] = c
		instruments = append(instruments, c)
	}

	queueDepth, err := m.Int64ObservableGauge(
		"sentinel.queue.depth",
		metric.WithDescription("Items waiting in each pipeline queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue depth gauge: %w", err)
	}
	instruments = append(instruments, queueDepth)

	reg, err := m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			s := fn()
			for i, spec := range counterSpecs {
				o.ObserveInt64(counters[i], int64(spec.value(s)), attrs)
			}
			for name, depth := range map[string]int{
				"frames":   s.FrameQueueLen,
				"results":  s.ResultQueueLen,
				"outbound": s.OutboundQueueLen,
			} {
				o.ObserveInt64(queueDepth, int64(depth),
					metric.WithAttributes(attribute.String("device_id", deviceID), attribute.String("queue", name)))
			}
			return nil
		},
		instruments...,
	)
	if err != nil {
		return nil, fmt.Errorf("registering metrics callback: %w", err)
	}
	return reg, nil
}
