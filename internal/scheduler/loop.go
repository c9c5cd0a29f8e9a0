package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossline/vivarium-core/internal/actuator"
	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/infrastructure/logging"
	"github.com/mossline/vivarium-core/internal/policy"
	"github.com/mossline/vivarium-core/internal/sensor"
	"github.com/mossline/vivarium-core/internal/statestore"
)

// Config assembles the loop's collaborators.
type Config struct {
	Devices  []Device
	Reader   sensor.Reader
	Actuator actuator.Port
	Store    statestore.Store
	Retry    config.RetryConfig
	Logger   *logging.Logger

	// Location is the habitat's time zone. Decisions see the clock in
	// this zone, so time-window policies and time-of-day triggers
	// follow habitat-local wall time. Nil means the host's local zone.
	Location *time.Location

	// OnTransition is called after every recorded transition, committed
	// or failed. Used to fan records out to telemetry, MQTT state
	// topics, and live operator streams. Must not block.
	OnTransition func(statestore.TransitionRecord)
}

// Loop is the control loop orchestrator.
//
// Run drives all devices from a single goroutine; Override and the
// accessors are safe to call concurrently from API and MQTT handlers.
type Loop struct {
	reader       sensor.Reader
	port         actuator.Port
	store        statestore.Store
	retry        config.RetryConfig
	logger       *logging.Logger
	onTransition func(statestore.TransitionRecord)

	schedules []*schedule
	byID      map[string]*schedule

	mu          sync.Mutex
	overrides   map[string]actuator.DesiredState
	quarantined map[string]string

	// clock and sleep are swappable for tests.
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// schedule pairs a device with its next-due time.
type schedule struct {
	device  Device
	nextDue time.Time
}

// plan is one device's decided transition, computed during Deciding and
// executed during Acting.
type plan struct {
	sched  *schedule
	last   *statestore.DeviceState
	next   statestore.DeviceState
	origin statestore.Origin
}

// New creates a control loop from its collaborators.
//
// Parameters:
//   - cfg: Devices, ports, store, retry policy, and hooks
//
// Returns:
//   - *Loop: Loop ready to Run
//   - error: ErrNoDevices if no devices are configured
func New(cfg Config) (*Loop, error) {
	if len(cfg.Devices) == 0 {
		return nil, ErrNoDevices
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	l := &Loop{
		reader:       cfg.Reader,
		port:         cfg.Actuator,
		store:        cfg.Store,
		retry:        cfg.Retry,
		logger:       logger.With("component", "scheduler"),
		onTransition: cfg.OnTransition,
		byID:         make(map[string]*schedule, len(cfg.Devices)),
		overrides:    make(map[string]actuator.DesiredState),
		quarantined:  make(map[string]string),
		clock:        func() time.Time { return time.Now().In(loc) },
		sleep:        waitFor,
	}

	for _, dev := range cfg.Devices {
		s := &schedule{device: dev}
		l.schedules = append(l.schedules, s)
		l.byID[dev.ID] = s
	}

	return l, nil
}

// Run drives the loop until ctx is cancelled.
//
// Shutdown is honoured only at tick boundaries: a tick in progress
// always completes its Acting and Recording phases first.
//
// Returns:
//   - error: Always nil on graceful shutdown
func (l *Loop) Run(ctx context.Context) error {
	now := l.clock()
	for _, s := range l.schedules {
		s.nextDue = now
	}

	l.logger.Info("control loop started", "devices", len(l.schedules))

	for {
		next, ok := l.earliestDue()
		if !ok {
			l.logger.Error("all devices quarantined, loop idle until shutdown")
			<-ctx.Done()
			l.logger.Info("control loop stopped")
			return nil
		}

		if wait := next.Sub(l.clock()); wait > 0 {
			if !l.sleep(ctx, wait) {
				l.logger.Info("control loop stopped")
				return nil
			}
		} else {
			select {
			case <-ctx.Done():
				l.logger.Info("control loop stopped")
				return nil
			default:
			}
		}

		now = l.clock()
		due := l.dueSchedules(now)
		if len(due) == 0 {
			continue
		}

		l.tick(ctx, due, now)

		for _, s := range due {
			s.nextDue = now.Add(s.device.Interval)
		}
	}
}

// tick runs one Reading → Deciding → Acting → Recording cycle for the
// due devices.
func (l *Loop) tick(ctx context.Context, due []*schedule, now time.Time) {
	// In-flight acting and recording must complete even if shutdown
	// fires mid-tick.
	tickCtx := context.WithoutCancel(ctx)

	// Reading: one snapshot serves every device in this tick.
	snap, readErr := l.reader.Read(tickCtx)
	if readErr != nil {
		l.logger.Warn("sensor read failed, metric policies hold", "error", readErr)
		snap = sensor.Snapshot{}
	}

	// Deciding: all decisions complete before any command is issued.
	var plans []plan
	for _, s := range due {
		if p, ok := l.decide(tickCtx, s, snap, now); ok {
			plans = append(plans, p)
		}
	}

	// Acting + Recording, one device at a time.
	for _, p := range plans {
		l.actAndRecord(tickCtx, p)
	}
}

// decide computes one device's planned transition. The second return is
// false when the device holds this tick (indeterminate decision, store
// error, quarantine, or no setting change).
func (l *Loop) decide(ctx context.Context, s *schedule, snap sensor.Snapshot, now time.Time) (plan, bool) {
	id := s.device.ID
	if l.isQuarantined(id) {
		return plan{}, false
	}

	last, err := l.store.LastState(ctx, id)
	if err != nil {
		if errors.Is(err, statestore.ErrUncommittedState) {
			l.quarantine(id, "stored state is not committed")
		} else {
			l.logger.Error("reading last state failed, holding device", "device", id, "error", err)
		}
		return plan{}, false
	}

	// A pending override replaces policy evaluation for this tick; the
	// policy takes over again on the next one.
	if ov, ok := l.takeOverride(id); ok {
		next := statestore.DeviceState{DeviceID: id, IsOn: ov.IsOn, Level: ov.Level}
		return plan{sched: s, last: last, next: next, origin: statestore.OriginManual}, true
	}

	decision, err := s.device.Policy.Decide(snap, last, now)
	if err != nil {
		if errors.Is(err, policy.ErrIndeterminate) {
			l.logger.Warn("decision indeterminate, holding device", "device", id, "error", err)
		} else {
			l.logger.Error("policy evaluation failed, holding device", "device", id, "error", err)
		}
		return plan{}, false
	}

	next := statestore.DeviceState{
		DeviceID:  id,
		IsOn:      decision.IsOn,
		Level:     decision.Level,
		StartedAt: decision.StartedAt,
	}

	// Only the necessary commands: an unchanged setting is not
	// re-commanded. A device with no committed state yet is always
	// commanded once to establish a known baseline.
	if last != nil && last.SameSetting(next) {
		return plan{}, false
	}

	return plan{sched: s, last: last, next: next, origin: statestore.OriginScheduled}, true
}

// actAndRecord issues the command with bounded retries and records the
// outcome. Only a delivered command yields a committed record; an
// exhausted retry budget yields a failed record and the stored state
// stays at the last committed value.
func (l *Loop) actAndRecord(ctx context.Context, p plan) {
	id := p.sched.device.ID
	desired := actuator.DesiredState{IsOn: p.next.IsOn, Level: p.next.Level}

	// Retries never run past the device's own next tick.
	deadline := l.clock().Add(p.sched.device.Interval)
	backoff := l.retry.InitialBackoff()

	outcome := statestore.OutcomeFailed
	var lastErr error
	for attempt := 1; attempt <= l.retry.MaxAttempts; attempt++ {
		err := l.port.SetState(ctx, id, desired)
		if err == nil {
			outcome = statestore.OutcomeCommitted
			lastErr = nil
			break
		}
		lastErr = err
		l.logger.Warn("actuator command failed",
			"device", id,
			"attempt", attempt,
			"max_attempts", l.retry.MaxAttempts,
			"error", err,
		)

		if attempt == l.retry.MaxAttempts {
			break
		}
		wait := backoff
		if remaining := deadline.Sub(l.clock()); wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		l.sleep(ctx, wait)
		backoff *= 2
	}

	if outcome == statestore.OutcomeFailed {
		l.logger.Error("transition failed, device held at last committed state",
			"device", id,
			"origin", p.origin,
			"error", lastErr,
		)
	}

	rec, err := l.store.Record(ctx, id, p.last, p.next, p.origin, outcome, l.clock())
	if err != nil {
		if outcome == statestore.OutcomeCommitted {
			// The command reached hardware but the store does not know:
			// commanded and persisted state have diverged.
			l.quarantine(id, fmt.Sprintf("recording committed transition failed: %v", err))
		} else {
			l.logger.Error("recording failed transition failed", "device", id, "error", err)
		}
		return
	}

	l.logger.Info("transition recorded",
		"device", id,
		"is_on", rec.NewState.IsOn,
		"origin", rec.Origin,
		"outcome", rec.Outcome,
	)

	if l.onTransition != nil {
		l.onTransition(rec)
	}
}

// Override schedules a one-shot manual state for a device, honoured on
// the device's next tick and recorded with origin manual. A later
// override for the same device replaces an unconsumed earlier one.
//
// Parameters:
//   - deviceID: Target device
//   - isOn: Desired on/off state
//   - level: Desired level, nil for plain on/off
//
// Returns:
//   - error: ErrUnknownDevice or ErrQuarantined
func (l *Loop) Override(deviceID string, isOn bool, level *int) error {
	if _, ok := l.byID[deviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if reason, q := l.quarantined[deviceID]; q {
		return fmt.Errorf("%w: %s (%s)", ErrQuarantined, deviceID, reason)
	}

	l.overrides[deviceID] = actuator.DesiredState{IsOn: isOn, Level: level}
	return nil
}

// takeOverride pops a pending override for a device, if any.
func (l *Loop) takeOverride(deviceID string) (actuator.DesiredState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ov, ok := l.overrides[deviceID]
	if ok {
		delete(l.overrides, deviceID)
	}
	return ov, ok
}

// quarantine removes a device from scheduling until restart.
func (l *Loop) quarantine(deviceID, reason string) {
	l.mu.Lock()
	l.quarantined[deviceID] = reason
	l.mu.Unlock()

	l.logger.Error("device quarantined", "device", deviceID, "reason", reason)
}

// isQuarantined reports whether a device is quarantined.
func (l *Loop) isQuarantined(deviceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.quarantined[deviceID]
	return ok
}

// Quarantined returns the quarantined devices and their reasons.
func (l *Loop) Quarantined() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.quarantined))
	for id, reason := range l.quarantined {
		out[id] = reason
	}
	return out
}

// Devices returns the configured devices in declaration order.
func (l *Loop) Devices() []Device {
	out := make([]Device, 0, len(l.schedules))
	for _, s := range l.schedules {
		out = append(out, s.device)
	}
	return out
}

// earliestDue returns the lowest next-due time among schedulable
// devices. The second return is false when every device is quarantined.
func (l *Loop) earliestDue() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, s := range l.schedules {
		if l.isQuarantined(s.device.ID) {
			continue
		}
		if !found || s.nextDue.Before(earliest) {
			earliest = s.nextDue
			found = true
		}
	}
	return earliest, found
}

// dueSchedules returns the schedulable devices due at or before now.
func (l *Loop) dueSchedules(now time.Time) []*schedule {
	var due []*schedule
	for _, s := range l.schedules {
		if l.isQuarantined(s.device.ID) {
			continue
		}
		if !s.nextDue.After(now) {
			due = append(due, s)
		}
	}
	return due
}

// waitFor sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
