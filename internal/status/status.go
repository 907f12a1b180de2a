// Package status assembles a consistent view of the controller for HTTP
// handlers and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/sensor"
)

// SensorSource supplies the configured sensors in display order.
type SensorSource interface {
	GetAll() []sensor.Sensor
}

// CycleSource supplies the cycle controller state.
type CycleSource interface {
	Snapshot() cycle.State
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Sensors              []sensor.Sensor
	Cycle                cycle.State
	CycleDurationMinutes int
	StartTime            time.Time
	Now                  time.Time
	MQTTConnected        bool
	Config               Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker combines daemon-level state with live reads from the sensor
// registry and cycle controller.
type Tracker struct {
	sensors  SensorSource
	cycles   CycleSource
	duration func() int
	now      func() time.Time

	mu            sync.RWMutex
	startTime     time.Time
	cfg           Config
	mqttConnected bool
}

// NewTracker creates a Tracker. minutes reports the live cycle duration.
func NewTracker(startTime time.Time, cfg Config, sensors SensorSource, cycles CycleSource, minutes func() int) *Tracker {
	return &Tracker{
		sensors:   sensors,
		cycles:    cycles,
		duration:  minutes,
		now:       time.Now,
		startTime: startTime,
		cfg:       cfg,
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.startTime,
		MQTTConnected: t.mqttConnected,
		Config:        t.cfg,
	}
	t.mu.RUnlock()

	s.Cycle = t.cycles.Snapshot()
	s.Sensors = t.sensors.GetAll()
	s.CycleDurationMinutes = t.duration()
	s.Now = t.now()
	return s
}
