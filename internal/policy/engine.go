package policy

import (
	"fmt"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/sensor"
	"github.com/mossline/vivarium-core/internal/statestore"
)

// Threshold turns a device on when a metric crosses a boundary and off
// only once the metric has recrossed by at least the hysteresis margin.
//
// With OffLevel set the "off" state is not power-off but the baseline
// level: an exhaust fan runs at its normal speed until the trigger
// pushes it to the on level, then drops back.
type Threshold struct {
	metric     string
	onAbove    *float64
	onBelow    *float64
	hysteresis float64
	onLevel    *int
	offLevel   *int
}

func newThreshold(cfg config.PolicyConfig) (*Threshold, error) {
	if (cfg.OnAbove == nil) == (cfg.OnBelow == nil) {
		return nil, fmt.Errorf("threshold requires exactly one of on_above or on_below")
	}
	if cfg.Metric != sensor.MetricTemperature && cfg.Metric != sensor.MetricHumidity {
		return nil, fmt.Errorf("threshold metric %q is not a known metric", cfg.Metric)
	}
	return &Threshold{
		metric:     cfg.Metric,
		onAbove:    cfg.OnAbove,
		onBelow:    cfg.OnBelow,
		hysteresis: cfg.Hysteresis,
		onLevel:    cfg.OnLevel,
		offLevel:   cfg.OffLevel,
	}, nil
}

// Kind returns "threshold".
func (p *Threshold) Kind() string { return config.PolicyKindThreshold }

// Decide evaluates the threshold against the snapshot.
//
// Within the hysteresis band the decision holds whatever regime the
// last committed state was in, so a metric hovering near the boundary
// cannot chatter the device.
func (p *Threshold) Decide(snap sensor.Snapshot, last *statestore.DeviceState, _ time.Time) (Decision, error) {
	value, ok := snap.Metric(p.metric)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrIndeterminate, p.metric)
	}

	var on bool
	switch {
	case p.onBelow != nil:
		switch {
		case value < *p.onBelow:
			on = true
		case value >= *p.onBelow+p.hysteresis:
			on = false
		default:
			on = p.inOnRegime(last)
		}
	default:
		switch {
		case value > *p.onAbove:
			on = true
		case value <= *p.onAbove-p.hysteresis:
			on = false
		default:
			on = p.inOnRegime(last)
		}
	}

	if on {
		return Decision{IsOn: true, Level: p.onLevel}, nil
	}
	if p.offLevel != nil {
		return Decision{IsOn: true, Level: p.offLevel}, nil
	}
	return Decision{}, nil
}

// inOnRegime reports whether the last committed state was in the
// triggered (on) regime, as opposed to off or the baseline level.
func (p *Threshold) inOnRegime(last *statestore.DeviceState) bool {
	if last == nil || !last.IsOn {
		return false
	}
	if p.offLevel == nil {
		return true
	}
	if p.onLevel != nil && last.Level != nil {
		return *last.Level == *p.onLevel
	}
	return true
}

// TimeWindow turns a device on within a time-of-day window. The window
// may wrap midnight (on 18:00, off 06:00).
type TimeWindow struct {
	onMinute  int
	offMinute int
}

func newTimeWindow(cfg config.PolicyConfig) (*TimeWindow, error) {
	onMin, err := config.ParseClock(cfg.OnTime)
	if err != nil {
		return nil, fmt.Errorf("on_time: %w", err)
	}
	offMin, err := config.ParseClock(cfg.OffTime)
	if err != nil {
		return nil, fmt.Errorf("off_time: %w", err)
	}
	if onMin == offMin {
		return nil, fmt.Errorf("on_time and off_time must differ")
	}
	return &TimeWindow{onMinute: onMin, offMinute: offMin}, nil
}

// Kind returns "time_window".
func (p *TimeWindow) Kind() string { return config.PolicyKindTimeWindow }

// Decide reports whether now falls within [on_time, off_time) on the
// 24-hour clock. The snapshot and last state are not consulted, so a
// sensor fault never affects a time-window device.
func (p *TimeWindow) Decide(_ sensor.Snapshot, _ *statestore.DeviceState, now time.Time) (Decision, error) {
	minute := now.Hour()*60 + now.Minute()

	var on bool
	if p.onMinute < p.offMinute {
		on = minute >= p.onMinute && minute < p.offMinute
	} else {
		// Wraps midnight.
		on = minute >= p.onMinute || minute < p.offMinute
	}

	return Decision{IsOn: on}, nil
}

// FixedDuration starts a one-shot run when its trigger fires while the
// device is off, keeps it on for the run duration, then forces it off
// regardless of the trigger. A new run cannot start until an off state
// has been committed, so expiry and retrigger never collapse into one
// evaluation.
type FixedDuration struct {
	runFor  time.Duration
	trigger runTrigger
	level   *int
}

// runTrigger is the start condition of a fixed-duration run: a metric
// boundary or a fixed time of day.
type runTrigger struct {
	metric   string
	above    *float64
	below    *float64
	atMinute int // -1 when unset
}

func newFixedDuration(cfg config.PolicyConfig) (*FixedDuration, error) {
	if cfg.RunSeconds < 1 {
		return nil, fmt.Errorf("run_seconds must be at least 1")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("fixed_duration requires a trigger")
	}

	trig := runTrigger{
		metric:   cfg.Trigger.Metric,
		above:    cfg.Trigger.Above,
		below:    cfg.Trigger.Below,
		atMinute: -1,
	}
	if cfg.Trigger.At != "" {
		atMin, err := config.ParseClock(cfg.Trigger.At)
		if err != nil {
			return nil, fmt.Errorf("trigger at: %w", err)
		}
		trig.atMinute = atMin
	}
	if trig.above == nil && trig.below == nil && trig.atMinute < 0 {
		return nil, fmt.Errorf("trigger requires one of above, below, or at")
	}

	return &FixedDuration{
		runFor:  time.Duration(cfg.RunSeconds) * time.Second,
		trigger: trig,
		level:   cfg.OnLevel,
	}, nil
}

// Kind returns "fixed_duration".
func (p *FixedDuration) Kind() string { return config.PolicyKindFixedDuration }

// Decide continues, expires, or starts a run.
//
// A running device never consults the trigger (or the snapshot), so a
// sensor fault cannot cut a run short or extend it. The run window is
// [started_at, started_at+run_seconds): at exactly run_seconds elapsed
// the decision is off.
//
// An on state with no recorded start time (a manual-on override) has no
// window to honour and is ended immediately, so an override can never
// leave the device running unbounded.
func (p *FixedDuration) Decide(snap sensor.Snapshot, last *statestore.DeviceState, now time.Time) (Decision, error) {
	if last != nil && last.IsOn {
		if last.StartedAt == nil || now.Sub(*last.StartedAt) >= p.runFor {
			return Decision{}, nil
		}
		return Decision{IsOn: true, Level: p.level, StartedAt: last.StartedAt}, nil
	}

	fired, err := p.trigger.fired(snap, now)
	if err != nil {
		return Decision{}, err
	}
	if !fired {
		return Decision{}, nil
	}

	started := now
	return Decision{IsOn: true, Level: p.level, StartedAt: &started}, nil
}

// fired evaluates the trigger condition.
func (t runTrigger) fired(snap sensor.Snapshot, now time.Time) (bool, error) {
	if t.atMinute >= 0 {
		return now.Hour()*60+now.Minute() == t.atMinute, nil
	}

	value, ok := snap.Metric(t.metric)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrIndeterminate, t.metric)
	}

	if t.above != nil {
		return value > *t.above, nil
	}
	return value < *t.below, nil
}
