package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/boiler-control/internal/control"
	"github.com/sweeney/boiler-control/internal/history"
	"github.com/sweeney/boiler-control/internal/status"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"

	maxEventsLimit = 1000
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.deps.Status.Snapshot()))
}

func (s *Server) postConfig(c *gin.Context) {
	var req configRequest
	if err := s.bind(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, result{Error: "invalid JSON body: " + err.Error()})
		return
	}

	err := s.deps.Control.UpdateConfig(req.update())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result{Success: true, Message: "configuration updated"})
	case errors.Is(err, control.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, result{Error: err.Error()})
	default:
		s.log.Errorw("config_update_failed", "err", err)
		c.JSON(http.StatusInternalServerError, result{Error: err.Error()})
	}
}

func (s *Server) postManual(c *gin.Context) {
	var req manualRequest
	if err := s.bind(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, result{Error: "invalid JSON body: " + err.Error()})
		return
	}

	err := s.deps.Control.Manual(req.Action)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result{Success: true, Message: "heating cycle " + req.Action + " accepted"})
	case errors.Is(err, control.ErrCycleRunning):
		c.JSON(http.StatusConflict, result{Error: err.Error()})
	case errors.Is(err, control.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, result{Error: err.Error()})
	default:
		s.log.Errorw("manual_action_failed", "action", req.Action, "err", err)
		c.JSON(http.StatusInternalServerError, result{Error: err.Error()})
	}
}

// bind decodes a size-limited JSON body.
func (s *Server) bind(c *gin.Context, v any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	return c.ShouldBindJSON(v)
}

// getEvents lists recorded cycle transitions filtered by ?from, ?to, ?type
// and ?limit. A date-only 'to' covers the whole day.
func (s *Server) getEvents(c *gin.Context) {
	var (
		f   = history.Filter{Type: strings.ToUpper(strings.TrimSpace(c.Query("type")))}
		err error
	)
	if qs := c.Query("from"); qs != "" {
		if f.From, err = parseQueryTime(qs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	if qs := c.Query("to"); qs != "" {
		if f.To, err = parseQueryTime(qs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			f.To = f.To.Add(24*time.Hour - time.Millisecond)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}
	if qs := c.Query("limit"); qs != "" {
		n, err := strconv.Atoi(qs)
		if err != nil || n <= 0 || n > maxEventsLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'; use 1.." + strconv.Itoa(maxEventsLimit)})
			return
		}
		f.Limit = n
	}

	events, err := s.deps.History.List(c.Request.Context(), f)
	if err != nil {
		s.log.Errorw("events_list_failed", "err", err, "from", f.From, "to", f.To, "type", f.Type)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Count: len(events), Events: events})
}

func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

// parseQueryTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD",
// the latter two in UTC.
func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(layoutDateTime, s); err == nil {
		return t, nil
	}
	return time.Parse(layoutDate, s)
}
