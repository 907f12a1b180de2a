package web

import (
	"github.com/sweeney/boiler-control/internal/control"
)

// configRequest is the body of POST /config. Every field is optional.
type configRequest struct {
	CycleDurationMinutes *int               `json:"cycle_duration_minutes"`
	Thresholds           map[string]float64 `json:"thresholds"`
	Sensors              *[]sensorRequest   `json:"sensors"`
}

// sensorRequest is one entry of a full sensor replacement.
type sensorRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Topic     string  `json:"topic"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit"`
}

// manualRequest is the body of POST /manual.
type manualRequest struct {
	Action string `json:"action"`
}

// result is the body of every config and manual response.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// eventsResponse is the body of GET /events.
type eventsResponse struct {
	Count  int         `json:"count"`
	Events interface{} `json:"events"`
}

func (r configRequest) update() control.Update {
	u := control.Update{
		CycleDurationMinutes: r.CycleDurationMinutes,
		ThresholdsF:          r.Thresholds,
	}
	if r.Sensors != nil {
		defs := make([]control.SensorDef, 0, len(*r.Sensors))
		for _, sr := range *r.Sensors {
			defs = append(defs, control.SensorDef{
				ID:         sr.ID,
				Name:       sr.Name,
				Topic:      sr.Topic,
				ThresholdF: sr.Threshold,
				Unit:       sr.Unit,
			})
		}
		u.Sensors = &defs
	}
	return u
}
