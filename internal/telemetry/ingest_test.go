package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
	"github.com/sweeney/boiler-control/internal/sensor"
)

type fakeStarter struct {
	mu       sync.Mutex
	triggers []string
	running  bool
	err      error
}

func (f *fakeStarter) Start(trigger string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.triggers = append(f.triggers, trigger)
	if f.running {
		return false, nil
	}
	f.running = true
	return true, nil
}

func (f *fakeStarter) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

type countingRecorder struct {
	mu       sync.Mutex
	accepted int
	rejected map[string]int
}

func (c *countingRecorder) ReadingAccepted(string, float64) {
	c.mu.Lock()
	c.accepted++
	c.mu.Unlock()
}

func (c *countingRecorder) ReadingRejected(reason string) {
	c.mu.Lock()
	if c.rejected == nil {
		c.rejected = map[string]int{}
	}
	c.rejected[reason]++
	c.mu.Unlock()
}

func setup(t *testing.T) (*Ingestor, *sensor.Registry, *fakeStarter, *countingRecorder) {
	t.Helper()
	reg, err := sensor.NewRegistry([]sensor.Def{
		{ID: "room1", Name: "Room 1", Topic: "sensors/room1", ThresholdC: logic.FToC(66)},
		{ID: "attic", Name: "Attic", Topic: "sensors/attic", ThresholdC: logic.FToC(50), Unit: logic.Fahrenheit},
	})
	if err != nil {
		t.Fatal(err)
	}
	starter := &fakeStarter{}
	rec := &countingRecorder{}
	return NewIngestor(reg, starter, logger.Nop(), rec), reg, starter, rec
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"18.0", 18, true},
		{" 17.5\n", 17.5, true},
		{"-3", -3, true},
		{"not-a-number", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"inf", 0, false},
		{"18C", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePayload([]byte(tt.in))
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("ParsePayload(%q): got %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBelowThresholdStartsCycle(t *testing.T) {
	in, reg, starter, rec := setup(t)

	// 18.0°C = 64.4°F, below 66°F.
	in.OnReading("sensors/room1", []byte("18.0"))

	s, _ := reg.Get("room1")
	if s.Last == nil || s.Last.Celsius != 18.0 {
		t.Fatalf("reading not stored: %+v", s.Last)
	}
	if got := starter.calls(); len(got) != 1 || got[0] != "sensor:Room 1" {
		t.Errorf("Start calls: got %v", got)
	}
	if rec.accepted != 1 {
		t.Errorf("accepted: got %d", rec.accepted)
	}
}

func TestAtOrAboveThresholdDoesNotStart(t *testing.T) {
	in, _, starter, _ := setup(t)

	in.OnReading("sensors/room1", []byte("19.0")) // 66.2°F
	in.OnReading("sensors/attic", []byte("50"))   // equal, in °F

	if got := starter.calls(); len(got) != 0 {
		t.Errorf("Start should not be called, got %v", got)
	}
}

func TestReadingEqualToThresholdInFahrenheitDoesNotStart(t *testing.T) {
	reg, err := sensor.NewRegistry([]sensor.Def{
		{ID: "room1", Name: "Room 1", Topic: "sensors/room1", ThresholdC: logic.FToC(64.4)},
	})
	if err != nil {
		t.Fatal(err)
	}
	starter := &fakeStarter{}
	in := NewIngestor(reg, starter, logger.Nop(), nil)

	// 18.0°C is exactly 64.4°F, while FToC(64.4) is a hair above 18.
	in.OnReading("sensors/room1", []byte("18.0"))
	if got := starter.calls(); len(got) != 0 {
		t.Fatalf("reading equal to the threshold started a cycle: %v", got)
	}

	in.OnReading("sensors/room1", []byte("17.99"))
	if got := starter.calls(); len(got) != 1 {
		t.Errorf("reading below the threshold: got %v", got)
	}
}

func TestFahrenheitSensorNormalized(t *testing.T) {
	in, reg, starter, _ := setup(t)

	in.OnReading("sensors/attic", []byte("41"))

	s, _ := reg.Get("attic")
	if s.Last == nil || s.Last.Celsius != 5 {
		t.Errorf("expected 5°C stored, got %+v", s.Last)
	}
	if got := starter.calls(); len(got) != 1 || got[0] != "sensor:Attic" {
		t.Errorf("Start calls: got %v", got)
	}
}

func TestMalformedPayloadDiscarded(t *testing.T) {
	in, reg, starter, rec := setup(t)

	in.OnReading("sensors/room1", []byte("20.0"))
	in.OnReading("sensors/room1", []byte("not-a-number"))

	s, _ := reg.Get("room1")
	if s.Last == nil || s.Last.Celsius != 20.0 {
		t.Errorf("reading should be unchanged, got %+v", s.Last)
	}
	if len(starter.calls()) != 0 {
		t.Error("malformed payload must not start a cycle")
	}
	if rec.rejected[RejectMalformed] != 1 {
		t.Errorf("malformed count: got %d", rec.rejected[RejectMalformed])
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	in, reg, starter, rec := setup(t)

	in.OnReading("sensors/garage", []byte("1.0"))

	for _, s := range reg.GetAll() {
		if s.Last != nil {
			t.Errorf("sensor %s should have no reading", s.ID)
		}
	}
	if len(starter.calls()) != 0 {
		t.Error("unknown topic must not start a cycle")
	}
	if rec.rejected[RejectUnknownTopic] != 1 {
		t.Errorf("unknown topic count: got %d", rec.rejected[RejectUnknownTopic])
	}
}

func TestThresholdChangeAppliesToNextReading(t *testing.T) {
	in, reg, starter, _ := setup(t)

	// 68.9°F is above the original 66°F.
	in.OnReading("sensors/room1", []byte("20.5"))
	if len(starter.calls()) != 0 {
		t.Fatal("should not start above threshold")
	}

	if err := reg.UpdateThreshold("room1", logic.FToC(70)); err != nil {
		t.Fatal(err)
	}
	if len(starter.calls()) != 0 {
		t.Fatal("threshold change must not re-evaluate the old reading")
	}

	in.OnReading("sensors/room1", []byte("20.5"))
	if got := starter.calls(); len(got) != 1 {
		t.Errorf("expected one Start after raising threshold, got %v", got)
	}
}

func TestStartErrorSwallowed(t *testing.T) {
	in, reg, starter, _ := setup(t)
	starter.err = errors.New("relay on: stuck")

	in.OnReading("sensors/room1", []byte("10"))

	s, _ := reg.Get("room1")
	if s.Last == nil {
		t.Error("reading should still be stored")
	}
}

func observedIngestor(t *testing.T, startErr error) (*Ingestor, *observer.ObservedLogs) {
	t.Helper()
	reg, err := sensor.NewRegistry([]sensor.Def{{ID: "room1", Name: "Room 1", Topic: "sensors/room1", ThresholdC: logic.FToC(66)}})
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	return NewIngestor(reg, &fakeStarter{err: startErr}, log, nil), logs
}

func TestStartAfterShutdownLoggedAtDebug(t *testing.T) {
	in, logs := observedIngestor(t, fmt.Errorf("start: %w", cycle.ErrClosed))
	in.OnReading("sensors/room1", []byte("10"))

	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Errorf("closed controller logged %d error entries", n)
	}
	if logs.FilterMessage("cycle_start_skipped").Len() != 1 {
		t.Error("expected a debug entry for the skipped start")
	}
}

func TestStartFailureLoggedAtError(t *testing.T) {
	in, logs := observedIngestor(t, errors.New("relay on: stuck"))
	in.OnReading("sensors/room1", []byte("10"))

	if logs.FilterMessage("cycle_start_failed").FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Error("expected one error entry for the failed start")
	}
}

func TestNilCollaboratorsDefaulted(t *testing.T) {
	reg, _ := sensor.NewRegistry([]sensor.Def{{ID: "a", Topic: "t", ThresholdC: 10}})
	in := NewIngestor(reg, &fakeStarter{}, nil, nil)
	in.OnReading("t", []byte("oops"))
	in.OnReading("t", []byte("5"))
}
