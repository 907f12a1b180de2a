// Package telemetry turns inbound sensor messages into registry updates
// and cycle start requests.
package telemetry

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
	"github.com/sweeney/boiler-control/internal/sensor"
)

// Starter starts a heating cycle.
type Starter interface {
	Start(trigger string) (bool, error)
}

// Recorder counts ingestion outcomes.
type Recorder interface {
	ReadingAccepted(sensorID string, celsius float64)
	ReadingRejected(reason string)
}

// Rejection reasons passed to Recorder.ReadingRejected.
const (
	RejectUnknownTopic = "unknown_topic"
	RejectMalformed    = "malformed"
)

type nopRecorder struct{}

func (nopRecorder) ReadingAccepted(string, float64) {}
func (nopRecorder) ReadingRejected(string)          {}

// Ingestor handles readings delivered by the telemetry transport.
type Ingestor struct {
	registry *sensor.Registry
	cycles   Starter
	log      *logger.Logger
	metrics  Recorder
	now      func() time.Time
}

// NewIngestor creates an Ingestor. metrics may be nil.
func NewIngestor(registry *sensor.Registry, cycles Starter, log *logger.Logger, metrics Recorder) *Ingestor {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Ingestor{
		registry: registry,
		cycles:   cycles,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ParsePayload parses a temperature payload. Surrounding whitespace is
// allowed; NaN and infinities are rejected.
func ParsePayload(payload []byte) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || !logic.ValidTemperature(v) {
		return 0, false
	}
	return v, true
}

// OnReading processes one message. It never returns an error: bad input is
// logged and dropped, and a cycle that fails to start is logged.
func (in *Ingestor) OnReading(topic string, payload []byte) {
	s, ok := in.registry.Lookup(topic)
	if !ok {
		in.metrics.ReadingRejected(RejectUnknownTopic)
		return
	}

	raw, ok := ParsePayload(payload)
	if !ok {
		in.log.Warnw("malformed_reading", "sensor", s.ID, "topic", topic, "payload", string(payload))
		in.metrics.ReadingRejected(RejectMalformed)
		return
	}

	celsius := logic.ToCelsius(raw, s.Unit)
	if err := in.registry.UpdateReading(s.ID, celsius, in.now()); err != nil {
		// Sensor set was replaced between Lookup and here.
		in.log.Debugw("reading_dropped", "sensor", s.ID, "error", err)
		return
	}
	in.metrics.ReadingAccepted(s.ID, celsius)

	// Re-read so a threshold change made after Lookup is honoured.
	cur, err := in.registry.Get(s.ID)
	if err != nil {
		return
	}

	readingF := logic.ToFahrenheit(raw, s.Unit)
	thresholdF := logic.ThresholdF(cur.ThresholdC)
	in.log.Debugw("reading", "sensor", cur.ID, "temperature_f", readingF, "threshold_f", thresholdF)
	if !logic.BelowThreshold(readingF, thresholdF) {
		return
	}

	started, err := in.cycles.Start(logic.SensorTrigger(cur.Name))
	switch {
	case errors.Is(err, cycle.ErrClosed):
		in.log.Debugw("cycle_start_skipped", "sensor", cur.ID, "error", err)
	case err != nil:
		in.log.Errorw("cycle_start_failed", "sensor", cur.ID, "error", err)
	case started:
		in.log.Infow("below_threshold",
			"sensor", cur.Name,
			"temperature_f", readingF,
			"threshold_f", thresholdF)
	}
}
