// Package control implements the operations behind the HTTP control API:
// configuration updates and manual start/stop.
package control

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
	"github.com/sweeney/boiler-control/internal/sensor"
	"github.com/sweeney/boiler-control/internal/store"
)

var (
	// ErrInvalidConfig wraps every rejected configuration update.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCycleRunning is returned by a manual start while a cycle runs.
	ErrCycleRunning = errors.New("heating cycle already running")

	// ErrInvalidAction is returned for a manual action other than start/stop.
	ErrInvalidAction = errors.New("invalid action")
)

// Manual actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Cycles is the part of the cycle controller the service drives.
type Cycles interface {
	Start(trigger string) (bool, error)
	Stop() error
	Snapshot() cycle.State
}

// Saver persists a configuration document.
type Saver interface {
	Save(doc store.Document) error
}

// Duration is the live cycle length in whole minutes. The cycle
// controller reads it once per Start.
type Duration struct {
	minutes atomic.Int64
}

// NewDuration returns a Duration set to minutes.
func NewDuration(minutes int) *Duration {
	d := &Duration{}
	d.minutes.Store(int64(minutes))
	return d
}

// Get returns the current duration.
func (d *Duration) Get() time.Duration {
	return time.Duration(d.minutes.Load()) * time.Minute
}

// Minutes returns the current duration in minutes.
func (d *Duration) Minutes() int {
	return int(d.minutes.Load())
}

func (d *Duration) set(minutes int) {
	d.minutes.Store(int64(minutes))
}

// SensorDef is a sensor as supplied through the API, threshold in °F.
type SensorDef struct {
	ID         string
	Name       string
	Topic      string
	ThresholdF float64
	Unit       string
}

// Update is a partial configuration change. Nil fields are left alone.
type Update struct {
	CycleDurationMinutes *int
	ThresholdsF          map[string]float64
	Sensors              *[]SensorDef
}

// Service applies configuration updates and manual commands.
type Service struct {
	registry *sensor.Registry
	cycles   Cycles
	store    Saver
	duration *Duration
	log      *logger.Logger

	// mu serializes validate-persist-apply so concurrent updates cannot
	// interleave their writes.
	mu sync.Mutex

	onSensorsChanged func(topics []string)
}

// New creates a Service.
func New(registry *sensor.Registry, cycles Cycles, saver Saver, duration *Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		registry: registry,
		cycles:   cycles,
		store:    saver,
		duration: duration,
		log:      log,
	}
}

// OnSensorsChanged registers a hook called with the new topic list after
// the sensor set is replaced.
func (s *Service) OnSensorsChanged(fn func(topics []string)) {
	s.mu.Lock()
	s.onSensorsChanged = fn
	s.mu.Unlock()
}

// CycleDuration returns the live cycle duration.
func (s *Service) CycleDuration() time.Duration {
	return s.duration.Get()
}

// UpdateConfig validates u in full, persists the resulting document and
// then applies it. Nothing changes if any step before applying fails.
func (s *Service) UpdateConfig(u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	minutes := s.duration.Minutes()
	if u.CycleDurationMinutes != nil {
		if *u.CycleDurationMinutes <= 0 {
			return fmt.Errorf("%w: cycle_duration_minutes must be a positive integer", ErrInvalidConfig)
		}
		minutes = *u.CycleDurationMinutes
	}

	defs := s.registry.Defs()
	if u.Sensors != nil {
		var err error
		if defs, err = toSensorDefs(*u.Sensors); err != nil {
			return err
		}
	}

	for id, f := range u.ThresholdsF {
		if !logic.ValidTemperature(f) {
			return fmt.Errorf("%w: threshold for %q is not a number", ErrInvalidConfig, id)
		}
		i := indexOf(defs, id)
		if i < 0 {
			return fmt.Errorf("%w: unknown sensor %q", ErrInvalidConfig, id)
		}
		defs[i].ThresholdC = thresholdC(f)
	}

	if err := s.store.Save(Document(minutes, defs)); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.duration.set(minutes)
	if u.Sensors != nil {
		// Already validated above.
		if err := s.registry.Replace(defs); err != nil {
			return fmt.Errorf("replace sensors: %w", err)
		}
		s.log.Infow("sensors_replaced", "count", len(defs))
		if s.onSensorsChanged != nil {
			s.onSensorsChanged(s.registry.Topics())
		}
	} else {
		for id := range u.ThresholdsF {
			if err := s.registry.UpdateThreshold(id, defs[indexOf(defs, id)].ThresholdC); err != nil {
				return fmt.Errorf("update threshold: %w", err)
			}
		}
	}

	s.log.Infow("config_updated", "cycle_duration_minutes", minutes, "thresholds", len(u.ThresholdsF))
	return nil
}

// Manual runs a manual start or stop.
func (s *Service) Manual(action string) error {
	switch action {
	case ActionStart:
		ok, err := s.cycles.Start(logic.TriggerManual)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCycleRunning
		}
		s.log.Infow("manual_start")
		return nil
	case ActionStop:
		if err := s.cycles.Stop(); err != nil {
			return err
		}
		s.log.Infow("manual_stop")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// Document builds the persisted form of a configuration.
func Document(minutes int, defs []sensor.Def) store.Document {
	doc := store.Document{
		CycleDurationMinutes: minutes,
		Sensors:              make([]store.SensorDoc, 0, len(defs)),
	}
	for _, d := range defs {
		doc.Sensors = append(doc.Sensors, store.SensorDoc{
			ID:        d.ID,
			Name:      d.Name,
			Topic:     d.Topic,
			Threshold: logic.RoundHundredths(logic.CToF(d.ThresholdC)),
			Unit:      string(d.Unit),
		})
	}
	return doc
}

// SensorsFromDocument converts persisted sensors to registry definitions.
func SensorsFromDocument(doc store.Document) ([]sensor.Def, error) {
	in := make([]SensorDef, 0, len(doc.Sensors))
	for _, sd := range doc.Sensors {
		in = append(in, SensorDef{ID: sd.ID, Name: sd.Name, Topic: sd.Topic, ThresholdF: sd.Threshold, Unit: sd.Unit})
	}
	return toSensorDefs(in)
}

func toSensorDefs(in []SensorDef) ([]sensor.Def, error) {
	defs := make([]sensor.Def, 0, len(in))
	for _, sd := range in {
		unit, err := logic.ParseUnit(sd.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: sensor %q: %v", ErrInvalidConfig, sd.ID, err)
		}
		if !logic.ValidTemperature(sd.ThresholdF) {
			return nil, fmt.Errorf("%w: threshold for %q is not a number", ErrInvalidConfig, sd.ID)
		}
		defs = append(defs, sensor.Def{
			ID:         sd.ID,
			Name:       sd.Name,
			Topic:      sd.Topic,
			ThresholdC: thresholdC(sd.ThresholdF),
			Unit:       unit,
		})
	}
	if err := sensor.Validate(defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return defs, nil
}

// thresholdC converts an operator threshold to Celsius after rounding it
// to the precision it is persisted with.
func thresholdC(f float64) float64 {
	return logic.FToC(logic.RoundHundredths(f))
}

func indexOf(defs []sensor.Def, id string) int {
	for i, d := range defs {
		if d.ID == id {
			return i
		}
	}
	return -1
}
