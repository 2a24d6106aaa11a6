package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

const measurement = "pipeline_stats"

// InfluxReporter periodically writes a pipeline_stats point
type InfluxReporter struct {
	client   influxdb2.Client
	writer   influxdb2_api.WriteAPIBlocking
	deviceID string
	interval time.Duration
	snapshot SnapshotFunc
	logger   zerolog.Logger
}

func NewInfluxReporter(url, token, org, bucket, deviceID string, interval time.Duration, fn SnapshotFunc, logger zerolog.Logger) *InfluxReporter {
	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &InfluxReporter{
		client:   client,
		writer:   client.WriteAPIBlocking(org, bucket),
		deviceID: deviceID,
		interval: interval,
		snapshot: fn,
		logger:   logger,
	}
}

// Run writes a point every interval until ctx is cancelled. Write
// failures are logged and the next tick retries.
func (r *InfluxReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("InfluxDB stats reporter started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("InfluxDB stats reporter stopped")
			return
		case now := <-ticker.C:
			p := Point(r.snapshot(), r.deviceID, now)
			writeCtx, cancel := context.WithTimeout(ctx, r.interval)
			if err := r.writer.WritePoint(writeCtx, p); err != nil {
				r.logger.Warn().Err(err).Msg("Error sending stats to InfluxDB")
			}
			cancel()
		}
	}
}

func (r *InfluxReporter) Close() {
	r.client.Close()
}

// Point converts a snapshot into a pipeline_stats point tagged by device
func Point(s Snapshot, deviceID string, ts time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"frames_captured":    int64(s.FramesCaptured),
			"frames_dropped":     int64(s.FramesDropped),
			"frames_inferred":    int64(s.FramesInferred),
			"inference_errors":   int64(s.InferenceErrors),
			"violence_detected":  int64(s.ViolenceDetected),
			"events_assembled":   int64(s.EventsAssembled),
			"events_sent":        int64(s.EventsSent),
			"events_failed":      int64(s.EventsFailed),
			"frame_queue_len":    int64(s.FrameQueueLen),
			"result_queue_len":   int64(s.ResultQueueLen),
			"outbound_queue_len": int64(s.OutboundQueueLen),
		},
		ts,
	)
}
