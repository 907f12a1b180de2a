package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/boiler-control/internal/logic"
)

// StatusJSON is the status document served at /status.
type StatusJSON struct {
	Event                 string       `json:"event,omitempty"`
	Reason                string       `json:"reason,omitempty"`
	Sensors               []SensorJSON `json:"sensors"`
	CycleRunning          bool         `json:"cycle_running"`
	TriggerSource         *string      `json:"trigger_source"`
	CycleDurationMinutes  int          `json:"cycle_duration_minutes"`
	CycleID               string       `json:"cycle_id,omitempty"`
	CycleStartedAt        string       `json:"cycle_started_at,omitempty"`
	CycleRemainingSeconds *int64       `json:"cycle_remaining_seconds,omitempty"`
	MQTTConnected         bool         `json:"mqtt_connected"`
	UptimeSeconds         int64        `json:"uptime_seconds"`
	StartTime             string       `json:"start_time"`
	Timestamp             string       `json:"timestamp"`
	Config                ConfigJSON   `json:"config"`
}

// SensorJSON is one sensor in the status document. Temperatures are °F.
type SensorJSON struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TemperatureF  *float64 `json:"temperature_f"`
	ThresholdF    float64  `json:"threshold_f"`
	LastReadingAt *string  `json:"last_reading_at"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

// SystemEventJSON is the envelope published on the system topic.
type SystemEventJSON struct {
	Status StatusJSON `json:"status"`
}

// Build converts a snapshot to its JSON form.
func Build(snap Snapshot) StatusJSON {
	out := StatusJSON{
		Sensors:              make([]SensorJSON, 0, len(snap.Sensors)),
		CycleRunning:         snap.Cycle.Running,
		CycleDurationMinutes: snap.CycleDurationMinutes,
		MQTTConnected:        snap.MQTTConnected,
		UptimeSeconds:        int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:            snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:            snap.Now.UTC().Format(time.RFC3339),
		Config: ConfigJSON{
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	for _, s := range snap.Sensors {
		sj := SensorJSON{
			ID:         s.ID,
			Name:       s.Name,
			ThresholdF: logic.RoundHundredths(logic.CToF(s.ThresholdC)),
		}
		if s.Last != nil {
			f := logic.RoundHundredths(logic.CToF(s.Last.Celsius))
			at := s.Last.At.UTC().Format(time.RFC3339)
			sj.TemperatureF = &f
			sj.LastReadingAt = &at
		}
		out.Sensors = append(out.Sensors, sj)
	}

	if snap.Cycle.Running {
		trigger := snap.Cycle.Trigger
		remaining := int64(snap.Cycle.Remaining(snap.Now).Round(time.Second).Seconds())
		out.TriggerSource = &trigger
		out.CycleID = snap.Cycle.CycleID
		out.CycleStartedAt = snap.Cycle.StartedAt.UTC().Format(time.RFC3339)
		out.CycleRemainingSeconds = &remaining
	}
	return out
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := Build(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(SystemEventJSON{Status: inner})
	return data
}
