package mqtt

import (
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
)

// EventForwarder publishes committed cycle transitions. It satisfies
// cycle.Listener.
type EventForwarder struct {
	pub Publisher
	log *logger.Logger
}

// NewEventForwarder wraps pub.
func NewEventForwarder(pub Publisher, log *logger.Logger) *EventForwarder {
	if log == nil {
		log = logger.Nop()
	}
	return &EventForwarder{pub: pub, log: log}
}

// OnEvent publishes ev, logging any failure.
func (f *EventForwarder) OnEvent(ev logic.Event) {
	if err := f.pub.Publish(ev); err != nil {
		f.log.Warnw("publish_event_failed", "event", ev.Type, "cycle_id", ev.CycleID, "error", err)
	}
}
