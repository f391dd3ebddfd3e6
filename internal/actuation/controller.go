package actuation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/powerdash/backend/internal/clock"
	"github.com/powerdash/backend/internal/utils"
)

// handle is the single timer a controller may own at a time.
type handle struct {
	intent  Intent
	timer   clock.Timer
	next    time.Time
	nextCmd Command
	period  time.Duration
	start   time.Duration
	end     time.Duration
}

// Status describes the controller's desired state and pending transition.
type Status struct {
	Intent      Intent        `json:"intent,omitempty"`
	Desired     Command       `json:"desired"`
	Running     bool          `json:"running"`
	NextCommand Command       `json:"next_command,omitempty"`
	NextAt      time.Time     `json:"-"`
	Remaining   time.Duration `json:"-"`
	Period      time.Duration `json:"-"`
	Start       time.Duration `json:"-"`
	End         time.Duration `json:"-"`
	Connected   bool          `json:"connected"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	out := struct {
		alias
		NextAt           *time.Time `json:"next_at,omitempty"`
		RemainingSeconds int64      `json:"remaining_seconds"`
		PeriodSeconds    int64      `json:"period_seconds,omitempty"`
		Start            string     `json:"start,omitempty"`
		End              string     `json:"end,omitempty"`
	}{alias: alias(s), RemainingSeconds: ceilSeconds(s.Remaining)}
	if s.Running {
		next := s.NextAt
		out.NextAt = &next
	}
	if s.Period > 0 {
		out.PeriodSeconds = int64(s.Period / time.Second)
	}
	if s.Intent == IntentSchedule {
		out.Start = formatTimeOfDay(s.Start)
		out.End = formatTimeOfDay(s.End)
	}
	return json.Marshal(out)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

func formatTimeOfDay(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Controller owns the manual toggle and the timer driven policies. It holds
// at most one timer handle; starting an interval or a schedule replaces
// whatever was armed before.
type Controller struct {
	out    *Output
	clock  clock.Clock
	logger *utils.Logger

	mu      sync.Mutex
	desired bool
	active  *handle
	closed  bool
}

func NewController(out *Output, clk clock.Clock, logger *utils.Logger) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Controller{
		out:    out,
		clock:  clk,
		logger: logger.Named("controller"),
	}
}

// ToggleManual flips the desired state and publishes it.
func (c *Controller) ToggleManual() (Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrControllerClosed
	}

	cmd := commandFor(!c.desired)
	if err := c.out.Publish(IntentManual, cmd); err != nil {
		return "", err
	}
	c.desired = !c.desired
	return cmd, nil
}

// StartFixedTimer publishes ON now and OFF once seconds have elapsed.
func (c *Controller) StartFixedTimer(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: timer duration must be positive, got %d", ErrInvalidInput, seconds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	if c.active != nil && c.active.intent == IntentFixedTimer {
		return ErrTimerRunning
	}
	c.cancelLocked()

	if err := c.out.Publish(IntentFixedTimer, On); err != nil {
		return err
	}
	c.desired = true

	d := time.Duration(seconds) * time.Second
	h := &handle{intent: IntentFixedTimer, next: c.clock.Now().Add(d), nextCmd: Off}
	h.timer = c.clock.AfterFunc(d, func() { c.fireFixed(h) })
	c.active = h

	c.logger.Info("Fixed timer started", utils.Int("seconds", seconds))
	return nil
}

func (c *Controller) fireFixed(h *handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != h {
		return
	}
	c.active = nil
	c.desired = false
	if err := c.out.Publish(IntentFixedTimer, Off); err != nil {
		c.logger.Warn("Fixed timer could not switch the relay off", utils.Error(err))
	}
}

// StartIntervalToggle publishes ON now and flips the relay every period.
func (c *Controller) StartIntervalToggle(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidInput, seconds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	c.cancelLocked()

	if err := c.out.Publish(IntentInterval, On); err != nil {
		return err
	}
	c.desired = true

	period := time.Duration(seconds) * time.Second
	h := &handle{intent: IntentInterval, period: period}
	c.armInterval(h)
	c.active = h

	c.logger.Info("Interval toggle started", utils.Int("seconds", seconds))
	return nil
}

// armInterval must be called with mu held.
func (c *Controller) armInterval(h *handle) {
	h.next = c.clock.Now().Add(h.period)
	h.nextCmd = commandFor(!c.desired)
	h.timer = c.clock.AfterFunc(h.period, func() { c.fireInterval(h) })
}

func (c *Controller) fireInterval(h *handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != h {
		return
	}
	c.desired = !c.desired
	if err := c.out.Publish(IntentInterval, commandFor(c.desired)); err != nil {
		c.logger.Warn("Interval toggle publish failed", utils.Error(err))
	}
	c.armInterval(h)
}

// ScheduleRange switches the relay ON at start and OFF at end, both given as
// offsets from today's midnight in the clock's location.
func (c *Controller) ScheduleRange(start, end time.Duration) error {
	if start == 0 && end == 0 {
		return fmt.Errorf("%w: start and end are both unset", ErrInvalidInput)
	}
	if start < 0 || end < 0 || start >= 24*time.Hour || end >= 24*time.Hour {
		return fmt.Errorf("%w: times of day must fall within one day", ErrInvalidInput)
	}
	if end <= start {
		return fmt.Errorf("%w: end %s is not after start %s",
			ErrSchedulingConflict, formatTimeOfDay(end), formatTimeOfDay(start))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}

	now := c.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startAt := midnight.Add(start)
	if startAt.Before(now.Truncate(time.Second)) {
		return fmt.Errorf("%w: start %s already passed today", ErrSchedulingConflict, formatTimeOfDay(start))
	}
	c.cancelLocked()

	h := &handle{intent: IntentSchedule, start: start, end: end, next: startAt, nextCmd: On}
	h.timer = c.clock.AfterFunc(startAt.Sub(now), func() { c.fireScheduleStart(h, midnight.Add(end)) })
	c.active = h

	c.logger.Info("Schedule armed",
		utils.String("start", formatTimeOfDay(start)),
		utils.String("end", formatTimeOfDay(end)),
	)
	return nil
}

func (c *Controller) fireScheduleStart(h *handle, endAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != h {
		return
	}
	c.desired = true
	if err := c.out.Publish(IntentSchedule, On); err != nil {
		c.logger.Warn("Scheduled switch-on failed", utils.Error(err))
	}

	h.next = endAt
	h.nextCmd = Off
	h.timer = c.clock.AfterFunc(endAt.Sub(c.clock.Now()), func() { c.fireScheduleEnd(h) })
}

func (c *Controller) fireScheduleEnd(h *handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != h {
		return
	}
	c.active = nil
	c.desired = false
	if err := c.out.Publish(IntentSchedule, Off); err != nil {
		c.logger.Warn("Scheduled switch-off failed", utils.Error(err))
	}
}

// Stop releases any armed timer and switches the relay off. The timer is
// released even when the OFF command cannot be delivered.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	c.cancelLocked()
	c.desired = false
	return c.out.Publish(IntentStop, Off)
}

// Close releases any armed timer without publishing. The controller rejects
// every later operation.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	c.closed = true
}

// Status reports the desired state and the next pending transition.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Desired:   commandFor(c.desired),
		Connected: c.out.Connected(),
	}
	if h := c.active; h != nil {
		s.Intent = h.intent
		s.Running = true
		s.NextCommand = h.nextCmd
		s.NextAt = h.next
		s.Remaining = h.next.Sub(c.clock.Now())
		s.Period = h.period
		s.Start = h.start
		s.End = h.end
	}
	return s
}

// ready must be called with mu held.
func (c *Controller) ready() error {
	if c.closed {
		return ErrControllerClosed
	}
	if !c.out.Connected() {
		return ErrTransportUnavailable
	}
	return nil
}

// cancelLocked must be called with mu held.
func (c *Controller) cancelLocked() {
	if c.active == nil {
		return
	}
	c.active.timer.Stop()
	c.logger.Debug("Timer released", utils.String("intent", string(c.active.intent)))
	c.active = nil
}
