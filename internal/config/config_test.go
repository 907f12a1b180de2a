package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Relay.Pin != 17 || s.Relay.Driver != DriverGPIO || s.Relay.Chip != "gpiochip0" {
		t.Errorf("relay: %+v", s.Relay)
	}
	if s.DefaultCycleMinutes != 30 {
		t.Errorf("default_cycle_minutes: got %d", s.DefaultCycleMinutes)
	}
	if s.Heartbeat != 15*time.Minute {
		t.Errorf("heartbeat: got %v", s.Heartbeat)
	}
	if len(s.Sensors) != 1 || s.Sensors[0].ID != "room1" || s.Sensors[0].ThresholdF != 66 {
		t.Errorf("sensors: %+v", s.Sensors)
	}
}

func TestEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BOILER_RELAY_PIN", "22")
	t.Setenv("BOILER_MQTT_BROKER", "tcp://broker.lan:1883")
	t.Setenv("BOILER_HEARTBEAT", "30s")
	t.Setenv("BOILER_RELAY_DRIVER", "fake")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Relay.Pin != 22 {
		t.Errorf("pin: got %d", s.Relay.Pin)
	}
	if s.MQTT.Broker != "tcp://broker.lan:1883" {
		t.Errorf("broker: got %q", s.MQTT.Broker)
	}
	if s.Heartbeat != 30*time.Second {
		t.Errorf("heartbeat: got %v", s.Heartbeat)
	}
	if s.Relay.Driver != DriverFake {
		t.Errorf("driver: got %q", s.Relay.Driver)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boiler.yaml")
	yaml := `
log_level: debug
http_addr: ":9090"
relay:
  driver: fake
  active_low: true
sensors:
  - id: lounge
    name: Lounge
    topic: home/sensors/lounge
    threshold_f: 65.5
  - id: attic
    topic: home/sensors/attic
    threshold_f: 50
    unit: F
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.LogLevel != "debug" || s.HTTPAddr != ":9090" || !s.Relay.ActiveLow {
		t.Errorf("settings: %+v", s)
	}
	if s.Relay.Pin != 17 {
		t.Errorf("unset keys keep defaults: pin %d", s.Relay.Pin)
	}
	if len(s.Sensors) != 2 || s.Sensors[1].Unit != "F" || s.Sensors[0].ThresholdF != 65.5 {
		t.Errorf("sensors: %+v", s.Sensors)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"driver", func(s *Settings) { s.Relay.Driver = "serial" }},
		{"pin", func(s *Settings) { s.Relay.Pin = -1 }},
		{"heartbeat", func(s *Settings) { s.Heartbeat = 0 }},
		{"cycle minutes", func(s *Settings) { s.DefaultCycleMinutes = 0 }},
		{"state path", func(s *Settings) { s.StatePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if s.Validate() == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJSON(t *testing.T) {
	chdir(t, t.TempDir())
	s, _ := Load("")
	out := string(s.JSON())
	if !strings.Contains(out, `"pin": 17`) || !strings.Contains(out, `"threshold_f": 66`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
