// Package sensor holds the configured temperature sensors and the last
// reading observed for each.
package sensor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/boiler-control/internal/logic"
)

var (
	// ErrNotFound is returned when no sensor has the requested id.
	ErrNotFound = errors.New("sensor not found")

	// ErrInvalid is returned when a sensor definition is rejected.
	ErrInvalid = errors.New("invalid sensor definition")
)

// Reading is the last valid temperature reported by a sensor.
type Reading struct {
	Celsius float64
	At      time.Time
}

// Sensor is a configured sensor. Values returned by the registry are
// copies and may be modified freely by the caller.
type Sensor struct {
	ID         string
	Name       string
	Topic      string
	ThresholdC float64
	Unit       logic.Unit
	Last       *Reading // nil until the first valid reading
}

// Def describes a sensor without any runtime state.
type Def struct {
	ID         string
	Name       string
	Topic      string
	ThresholdC float64
	Unit       logic.Unit
}

// Registry is the live sensor set. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]*Sensor
	byTopic map[string]string
}

// NewRegistry builds a registry from defs, preserving their order.
func NewRegistry(defs []Def) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(defs); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks a sensor set without installing it.
func Validate(defs []Def) error {
	ids := make(map[string]bool, len(defs))
	topics := make(map[string]bool, len(defs))
	for i, d := range defs {
		id := strings.TrimSpace(d.ID)
		topic := strings.TrimSpace(d.Topic)
		switch {
		case id == "":
			return fmt.Errorf("%w: sensor %d has no id", ErrInvalid, i)
		case topic == "":
			return fmt.Errorf("%w: sensor %q has no topic", ErrInvalid, id)
		case ids[id]:
			return fmt.Errorf("%w: duplicate id %q", ErrInvalid, id)
		case topics[topic]:
			return fmt.Errorf("%w: duplicate topic %q", ErrInvalid, topic)
		case !logic.ValidTemperature(d.ThresholdC):
			return fmt.Errorf("%w: sensor %q threshold is not a number", ErrInvalid, id)
		}
		if d.Unit != "" && d.Unit != logic.Celsius && d.Unit != logic.Fahrenheit {
			return fmt.Errorf("%w: sensor %q unit %q", ErrInvalid, id, d.Unit)
		}
		ids[id] = true
		topics[topic] = true
	}
	return nil
}

// Replace installs a new sensor set wholesale. Readings are kept for ids
// present in both the old and the new set.
func (r *Registry) Replace(defs []Def) error {
	if err := Validate(defs); err != nil {
		return err
	}

	order := make([]string, 0, len(defs))
	byID := make(map[string]*Sensor, len(defs))
	byTopic := make(map[string]string, len(defs))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range defs {
		id := strings.TrimSpace(d.ID)
		topic := strings.TrimSpace(d.Topic)
		unit := d.Unit
		if unit == "" {
			unit = logic.Celsius
		}
		name := d.Name
		if name == "" {
			name = id
		}
		s := &Sensor{ID: id, Name: name, Topic: topic, ThresholdC: d.ThresholdC, Unit: unit}
		if old, ok := r.byID[id]; ok && old.Last != nil {
			last := *old.Last
			s.Last = &last
		}
		order = append(order, id)
		byID[id] = s
		byTopic[topic] = id
	}

	r.order = order
	r.byID = byID
	r.byTopic = byTopic
	return nil
}

// GetAll returns every sensor in configuration order.
func (r *Registry) GetAll() []Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sensor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// Get returns the sensor with the given id.
func (r *Registry) Get(id string) (Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return Sensor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.clone(), nil
}

// Lookup resolves a telemetry topic by exact match.
func (r *Registry) Lookup(topic string) (Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTopic[topic]
	if !ok {
		return Sensor{}, false
	}
	return r.byID[id].clone(), true
}

// UpdateReading stores the latest Celsius reading for a sensor.
func (r *Registry) UpdateReading(id string, celsius float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.Last = &Reading{Celsius: celsius, At: at}
	return nil
}

// UpdateThreshold sets a sensor's threshold in Celsius.
func (r *Registry) UpdateThreshold(id string, celsius float64) error {
	if !logic.ValidTemperature(celsius) {
		return fmt.Errorf("%w: threshold is not a number", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.ThresholdC = celsius
	return nil
}

// Topics returns the telemetry topics in configuration order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Topic)
	}
	return out
}

// Defs returns the current sensor set without readings.
func (r *Registry) Defs() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Def, 0, len(r.order))
	for _, id := range r.order {
		s := r.byID[id]
		out = append(out, Def{ID: s.ID, Name: s.Name, Topic: s.Topic, ThresholdC: s.ThresholdC, Unit: s.Unit})
	}
	return out
}

func (s *Sensor) clone() Sensor {
	c := *s
	if s.Last != nil {
		last := *s.Last
		c.Last = &last
	}
	return c
}
