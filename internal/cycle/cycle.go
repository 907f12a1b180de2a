// Package cycle owns the heating cycle state machine.
//
// A Controller is either Idle or Running. Start and Stop serialize on a
// single mutex; the relay is driven while that mutex is held so the
// recorded state never disagrees with the last successful relay write.
// Each Running cycle owns one actuation goroutine that sleeps for the
// cycle's duration and then turns the relay off, unless Stop got there
// first. Readers use Snapshot, which never blocks.
package cycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
)

var (
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("cycle controller closed")

	// ErrInvalidDuration is returned by Start when the configured duration
	// is not positive.
	ErrInvalidDuration = errors.New("cycle duration must be positive")
)

// Actuator is the output the controller drives.
type Actuator interface {
	SetOutput(on bool) error
}

// Listener receives committed transitions in commit order, on a single
// dispatcher goroutine. Listeners must not call back into the Controller.
type Listener interface {
	OnEvent(ev logic.Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ev logic.Event)

// OnEvent calls f(ev).
func (f ListenerFunc) OnEvent(ev logic.Event) { f(ev) }

// State is a point-in-time copy of the controller state.
type State struct {
	Running   bool
	CycleID   string
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration
}

// Remaining returns the time left in the cycle at now, or zero when idle.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Running {
		return 0
	}
	left := s.StartedAt.Add(s.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// run is one Running cycle and its actuation goroutine.
type run struct {
	state  State
	cancel chan struct{} // closed by whoever ends the cycle early
	done   chan struct{} // closed when the goroutine exits
}

// Controller is the heating cycle state machine.
type Controller struct {
	relay    Actuator
	duration func() time.Duration
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
	retry    func() backoff.BackOff

	listeners []Listener

	mu     sync.Mutex
	active *run
	closed bool

	// queue holds committed transitions not yet handed to listeners.
	// Unbounded: emit never blocks while mu is held.
	qmu     sync.Mutex
	queue   []logic.Event
	qclosed bool
	wake    chan struct{}

	snap       atomic.Pointer[State]
	dispatched chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithListener registers a listener for committed transitions.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, l) }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDs overrides cycle id generation.
func WithIDs(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// WithRetry sets the backoff policy used when the relay refuses to turn
// off at the end of a cycle.
func WithRetry(policy func() backoff.BackOff) Option {
	return func(c *Controller) { c.retry = policy }
}

// New creates an idle controller. duration is called once per Start to
// read the current configured cycle length.
func New(relay Actuator, duration func() time.Duration, opts ...Option) *Controller {
	c := &Controller{
		relay:      relay,
		duration:   duration,
		log:        logger.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
		retry:      defaultRetry,
		wake:       make(chan struct{}, 1),
		dispatched: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(&State{})

	go c.dispatch()
	return c
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Snapshot returns the current state without blocking.
func (c *Controller) Snapshot() State {
	return *c.snap.Load()
}

// Start begins a cycle labelled with trigger. It reports false with a nil
// error when a cycle is already running. On success the relay is on and
// the call returns without waiting for the cycle to finish.
func (c *Controller) Start(trigger string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if c.active != nil {
		return false, nil
	}

	d := c.duration()
	if d <= 0 {
		return false, ErrInvalidDuration
	}

	if err := c.relay.SetOutput(true); err != nil {
		if offErr := c.relay.SetOutput(false); offErr != nil {
			c.log.Errorw("relay_off_after_failed_start", "error", offErr)
		}
		return false, fmt.Errorf("relay on: %w", err)
	}

	r := &run{
		state: State{
			Running:   true,
			CycleID:   c.newID(),
			Trigger:   trigger,
			StartedAt: c.now(),
			Duration:  d,
		},
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.active = r
	st := r.state
	c.snap.Store(&st)

	c.log.Infow("heating_cycle_started", "cycle_id", st.CycleID, "trigger", trigger, "duration", d)
	c.emit(logic.Event{
		Timestamp: st.StartedAt,
		Type:      logic.EventCycleStart,
		CycleID:   st.CycleID,
		Trigger:   trigger,
		Duration:  d,
	})

	go c.actuate(r)
	return true, nil
}

// Stop ends the running cycle. It is a no-op when idle. If the relay
// cannot be turned off the cycle stays running and the error is returned.
// On success Stop waits for the cycle's actuation goroutine to exit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.active
	if r == nil {
		c.mu.Unlock()
		return nil
	}
	if err := c.relay.SetOutput(false); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("relay off: %w", err)
	}
	c.endLocked(r, logic.EventCycleStop)
	c.mu.Unlock()

	<-r.done
	return nil
}

// Shutdown forces the relay off, ends any running cycle and stops event
// dispatch. Subsequent Start calls return ErrClosed.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	err := c.relay.SetOutput(false)
	r := c.active
	if r != nil {
		c.endLocked(r, logic.EventCycleStop)
	}
	c.qmu.Lock()
	c.qclosed = true
	c.qmu.Unlock()
	c.signal()
	c.mu.Unlock()

	if r != nil {
		<-r.done
	}
	<-c.dispatched

	if err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	return nil
}

// endLocked commits the Running→Idle transition for r. c.mu must be held
// and the relay must already be off.
func (c *Controller) endLocked(r *run, typ logic.EventType) {
	c.active = nil
	close(r.cancel)
	c.snap.Store(&State{})

	now := c.now()
	elapsed := now.Sub(r.state.StartedAt)
	if typ == logic.EventCycleComplete {
		c.log.Infow("heating_cycle_complete", "cycle_id", r.state.CycleID, "trigger", r.state.Trigger, "elapsed", elapsed)
	} else {
		c.log.Infow("heating_cycle_stopped", "cycle_id", r.state.CycleID, "trigger", r.state.Trigger, "elapsed", elapsed)
	}
	c.emit(logic.Event{
		Timestamp: now,
		Type:      typ,
		CycleID:   r.state.CycleID,
		Trigger:   r.state.Trigger,
		Duration:  r.state.Duration,
		Elapsed:   elapsed,
	})
}

// emit queues ev for listeners. c.mu must be held so events are queued in
// commit order.
func (c *Controller) emit(ev logic.Event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()
	c.signal()
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch hands queued events to listeners until Shutdown has queued its
// last event.
func (c *Controller) dispatch() {
	defer close(c.dispatched)
	for range c.wake {
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		last := c.qclosed
		c.qmu.Unlock()

		for _, ev := range batch {
			for _, l := range c.listeners {
				l.OnEvent(ev)
			}
		}
		if last {
			return
		}
	}
}

// actuate waits out the cycle and then performs the natural completion.
func (c *Controller) actuate(r *run) {
	defer close(r.done)

	timer := time.NewTimer(r.state.Duration)
	defer timer.Stop()

	select {
	case <-r.cancel:
		return
	case <-timer.C:
	}

	b := c.retry()
	for {
		err := c.complete(r)
		if err == nil {
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.log.Errorw("relay_off_gave_up", "cycle_id", r.state.CycleID, "error", err)
			return
		}
		c.log.Warnw("relay_off_failed", "cycle_id", r.state.CycleID, "error", err, "retry_in", wait)

		select {
		case <-r.cancel:
			return
		case <-time.After(wait):
		}
	}
}

// complete ends r if it is still the active cycle. A nil error means there
// is nothing left to do, either because r ended here or because a Stop
// already ended it.
func (c *Controller) complete(r *run) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != r {
		return nil
	}
	if err := c.relay.SetOutput(false); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	c.endLocked(r, logic.EventCycleComplete)
	return nil
}
