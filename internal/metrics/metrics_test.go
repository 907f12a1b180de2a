package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/boiler-control/internal/logic"
)

func TestReadings(t *testing.T) {
	m := New()

	m.ReadingAccepted("room1", 18.5)
	m.ReadingAccepted("room1", 18.0)
	m.ReadingRejected("malformed")

	if got := testutil.ToFloat64(m.readings.WithLabelValues("room1")); got != 2 {
		t.Errorf("readings: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.temperature.WithLabelValues("room1")); got != 18.0 {
		t.Errorf("temperature: got %v, want 18", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("malformed")); got != 1 {
		t.Errorf("rejected: got %v, want 1", got)
	}
}

func TestCycleEvents(t *testing.T) {
	m := New()

	m.OnEvent(logic.Event{Type: logic.EventCycleStart})
	if got := testutil.ToFloat64(m.cycleRunning); got != 1 {
		t.Errorf("running after start: got %v", got)
	}
	m.OnEvent(logic.Event{Type: logic.EventCycleComplete})
	if got := testutil.ToFloat64(m.cycleRunning); got != 0 {
		t.Errorf("running after complete: got %v", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("CYCLE_START")); got != 1 {
		t.Errorf("start count: got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.SetMQTTConnected(true)
	m.ObserveHTTP("/status", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"boiler_mqtt_connected 1",
		`boiler_http_requests_total{route="/status",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in output", want)
		}
	}
}
