// Package logic contains pure business logic for the boiler controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Unit is the temperature unit a sensor reports in.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// EventType identifies a heating cycle transition.
type EventType string

const (
	EventCycleStart    EventType = "CYCLE_START"
	EventCycleStop     EventType = "CYCLE_STOP"     // ended by an explicit stop
	EventCycleComplete EventType = "CYCLE_COMPLETE" // ended because the duration elapsed
)

// Event represents a committed cycle transition to be published or recorded.
type Event struct {
	Timestamp time.Time
	Type      EventType
	CycleID   string
	Trigger   string
	Duration  time.Duration // configured duration of the cycle
	Elapsed   time.Duration // zero for CYCLE_START
}

// TriggerManual labels cycles started from the control API.
const TriggerManual = "manual"

// triggerSensorPrefix prefixes the sensor name in sensor-triggered cycles.
const triggerSensorPrefix = "sensor:"
