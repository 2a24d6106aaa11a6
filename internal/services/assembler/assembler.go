// Package assembler turns violent processed frames into event records.
package assembler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/services/queue"
	"sentinel-edge-go/internal/services/reasoning"
)

// SnapshotReader returns the latest geospatial snapshot without blocking
type SnapshotReader interface {
	Latest() (models.GeospatialSnapshot, bool)
}

// Stats counts assembler outcomes
type Stats struct {
	Received       uint64 `json:"received"`
	Assembled      uint64 `json:"assembled"`
	Suppressed     uint64 `json:"suppressed"`
	OutboundDrops  uint64 `json:"outbound_drops"`
	UnknownVerdict uint64 `json:"unknown_verdicts"`
}

type Assembler struct {
	results   *queue.Bounded[*models.ProcessedFrame]
	outbound  *queue.Bounded[*models.EventRecord]
	snapshots SnapshotReader
	analyzer  reasoning.Analyzer
	cooldown  time.Duration
	idle      time.Duration
	logger    zerolog.Logger

	lastEvent time.Time
	now       func() time.Time

	received       atomic.Uint64
	assembled      atomic.Uint64
	suppressed     atomic.Uint64
	outboundDrops  atomic.Uint64
	unknownVerdict atomic.Uint64
}

func New(
	results *queue.Bounded[*models.ProcessedFrame],
	outbound *queue.Bounded[*models.EventRecord],
	snapshots SnapshotReader,
	analyzer reasoning.Analyzer,
	cooldown time.Duration,
	logger zerolog.Logger,
) *Assembler {
	return &Assembler{
		results:   results,
		outbound:  outbound,
		snapshots: snapshots,
		analyzer:  analyzer,
		cooldown:  cooldown,
		idle:      10 * time.Millisecond,
		logger:    logger,
		now:       time.Now,
	}
}

// Run consumes processed frames until ctx is cancelled
func (a *Assembler) Run(ctx context.Context) {
	a.logger.Info().Dur("cooldown", a.cooldown).Msg("Event assembler started")

	for ctx.Err() == nil {
		pf, ok := a.results.Pop(ctx, a.idle)
		if !ok {
			continue
		}
		a.handle(ctx, pf)
	}

	a.logger.Info().Uint64("assembled", a.assembled.Load()).Msg("Event assembler stopped")
}

func (a *Assembler) handle(ctx context.Context, pf *models.ProcessedFrame) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("Event assembly panic recovered")
		}
	}()

	a.received.Add(1)
	if !pf.ViolenceDetected {
		return
	}

	event, ok := a.Assemble(ctx, pf)
	if !ok {
		return
	}

	if !a.outbound.TryPush(event) {
		a.outboundDrops.Add(1)
		a.logger.Warn().Str("event_id", event.ID).Msg("Outbound queue full, dropping event")
		return
	}

	a.logger.Info().
		Str("event_id", event.ID).
		Str("risk_level", string(event.Verdict.RiskLevel)).
		Float64("lat", event.Location.Latitude).
		Float64("lon", event.Location.Longitude).
		Msg("Event assembled")
}

// Assemble builds the event for a violent frame. It returns false when the
// frame falls inside the cooldown window.
func (a *Assembler) Assemble(ctx context.Context, pf *models.ProcessedFrame) (*models.EventRecord, bool) {
	now := a.now()
	if a.cooldown > 0 && !a.lastEvent.IsZero() && now.Sub(a.lastEvent) < a.cooldown {
		a.suppressed.Add(1)
		return nil, false
	}
	a.lastEvent = now

	location, hasFix := a.snapshots.Latest()
	if !hasFix {
		a.logger.Debug().Msg("No position fix yet, event carries an empty location")
	}

	summary := reasoning.Summarize(pf.Detections)
	verdict := a.analyzer.Analyze(ctx, summary, location)
	if verdict.RiskLevel == models.RiskUnknown {
		a.unknownVerdict.Add(1)
	}

	a.assembled.Add(1)
	return &models.EventRecord{
		ID:             uuid.NewString(),
		Timestamp:      pf.Timestamp,
		Frame:          pf.Frame,
		Detections:     pf.Detections,
		ViolenceScores: pf.ViolenceScores,
		HasWeapons:     pf.HasWeapons,
		Location:       location,
		Verdict:        verdict,
	}, true
}

// Stats returns the assembler counters
func (a *Assembler) Stats() Stats {
	return Stats{
		Received:       a.received.Load(),
		Assembled:      a.assembled.Load(),
		Suppressed:     a.suppressed.Load(),
		OutboundDrops:  a.outboundDrops.Load(),
		UnknownVerdict: a.unknownVerdict.Load(),
	}
}
