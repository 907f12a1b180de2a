package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/logic"
	"github.com/sweeney/boiler-control/internal/sensor"
)

type stubSensors struct {
	mu      sync.Mutex
	sensors []sensor.Sensor
}

func (s *stubSensors) GetAll() []sensor.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sensor.Sensor(nil), s.sensors...)
}

type stubCycles struct {
	mu    sync.Mutex
	state cycle.State
}

func (s *stubCycles) Snapshot() cycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubCycles) set(st cycle.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func room1(last *sensor.Reading) sensor.Sensor {
	return sensor.Sensor{ID: "room1", Name: "Room 1", Topic: "sensors/room1", ThresholdC: logic.FToC(66), Last: last}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg, &stubSensors{}, &stubCycles{}, func() int { return 30 })

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.CycleDurationMinutes != 30 {
		t.Errorf("CycleDurationMinutes: got %d, want 30", snap.CycleDurationMinutes)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Cycle.Running {
		t.Error("expected idle cycle")
	}
}

func TestSnapshotReadsLiveSources(t *testing.T) {
	sensors := &stubSensors{sensors: []sensor.Sensor{room1(nil)}}
	cycles := &stubCycles{}
	minutes := 30
	tr := NewTracker(start, Config{}, sensors, cycles, func() int { return minutes })

	cycles.set(cycle.State{Running: true, Trigger: "manual", StartedAt: start, Duration: time.Hour})
	minutes = 45

	snap := tr.Snapshot()
	if !snap.Cycle.Running || snap.Cycle.Trigger != "manual" {
		t.Errorf("cycle: got %+v", snap.Cycle)
	}
	if snap.CycleDurationMinutes != 45 {
		t.Errorf("minutes: got %d", snap.CycleDurationMinutes)
	}
	if len(snap.Sensors) != 1 || snap.Sensors[0].ID != "room1" {
		t.Errorf("sensors: got %+v", snap.Sensors)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, &stubSensors{}, &stubCycles{}, func() int { return 30 })

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start, Config{}, &stubSensors{}, &stubCycles{}, func() int { return 30 })

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestFormatJSONIdle(t *testing.T) {
	snap := Snapshot{
		Sensors:              []sensor.Sensor{room1(nil)},
		CycleDurationMinutes: 30,
		StartTime:            start,
		Now:                  start.Add(15 * time.Minute),
		MQTTConnected:        true,
	}

	data := FormatJSON(snap)

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if v, ok := raw["trigger_source"]; !ok || v != nil {
		t.Errorf("trigger_source: want explicit null, got %v (present=%v)", v, ok)
	}
	if raw["cycle_running"] != false {
		t.Errorf("cycle_running: got %v", raw["cycle_running"])
	}
	if raw["uptime_seconds"] != float64(900) {
		t.Errorf("uptime_seconds: got %v", raw["uptime_seconds"])
	}
	for _, k := range []string{"cycle_id", "cycle_started_at", "cycle_remaining_seconds", "event", "reason"} {
		if _, ok := raw[k]; ok {
			t.Errorf("%s should be omitted when idle", k)
		}
	}

	sensors := raw["sensors"].([]interface{})
	s0 := sensors[0].(map[string]interface{})
	if v, ok := s0["temperature_f"]; !ok || v != nil {
		t.Errorf("temperature_f: want explicit null, got %v", v)
	}
	if s0["threshold_f"] != float64(66) {
		t.Errorf("threshold_f: got %v", s0["threshold_f"])
	}
}

func TestFormatJSONRunning(t *testing.T) {
	snap := Snapshot{
		Sensors: []sensor.Sensor{room1(&sensor.Reading{Celsius: 18, At: start.Add(time.Minute)})},
		Cycle: cycle.State{
			Running:   true,
			CycleID:   "abc",
			Trigger:   "sensor:Room 1",
			StartedAt: start.Add(time.Minute),
			Duration:  30 * time.Minute,
		},
		CycleDurationMinutes: 30,
		StartTime:            start,
		Now:                  start.Add(11 * time.Minute),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if !parsed.CycleRunning || parsed.TriggerSource == nil || *parsed.TriggerSource != "sensor:Room 1" {
		t.Errorf("cycle fields: %+v", parsed)
	}
	if parsed.CycleID != "abc" {
		t.Errorf("CycleID: got %q", parsed.CycleID)
	}
	if parsed.CycleRemainingSeconds == nil || *parsed.CycleRemainingSeconds != 1200 {
		t.Errorf("remaining: got %v", parsed.CycleRemainingSeconds)
	}
	s := parsed.Sensors[0]
	if s.TemperatureF == nil || *s.TemperatureF != 64.4 {
		t.Errorf("temperature_f: got %v", s.TemperatureF)
	}
	if s.LastReadingAt == nil || *s.LastReadingAt != "2026-01-01T00:01:00Z" {
		t.Errorf("last_reading_at: got %v", s.LastReadingAt)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed SystemEventJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.Config.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker: got %q", parsed.Status.Config.Broker)
	}
	if strings.Contains(string(data), "\n") {
		t.Error("system events should be compact")
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(30 * time.Minute)}

	var parsed SystemEventJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("got event=%q reason=%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(time.Second)}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	cycles := &stubCycles{}
	tr := NewTracker(time.Now(), Config{}, &stubSensors{sensors: []sensor.Sensor{room1(nil)}}, cycles, func() int { return 30 })
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetMQTTConnected(i%2 == 0)
			cycles.set(cycle.State{Running: i%2 == 0})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
