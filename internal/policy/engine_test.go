package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/sensor"
	"github.com/mossline/vivarium-core/internal/statestore"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func humiditySnap(v float64) sensor.Snapshot {
	return sensor.Snapshot{Humidity: floatPtr(v), CapturedAt: time.Now()}
}

func committedState(on bool, level *int, startedAt *time.Time) *statestore.DeviceState {
	return &statestore.DeviceState{
		DeviceID:  "dev-1",
		IsOn:      on,
		Level:     level,
		StartedAt: startedAt,
		Outcome:   statestore.OutcomeCommitted,
	}
}

func TestThresholdOnBelowWithHysteresis(t *testing.T) {
	// Mister: on below 80% humidity, off once back at 85%.
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindThreshold,
		Metric:     config.MetricHumidity,
		OnBelow:    floatPtr(80),
		Hysteresis: 5,
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	now := time.Now()

	// 75% -> on.
	d, err := p.Decide(humiditySnap(75), nil, now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn {
		t.Error("expected on at 75%")
	}

	// 83% with device on -> stays on (83 < 80+5).
	d, err = p.Decide(humiditySnap(83), committedState(true, nil, nil), now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn {
		t.Error("expected device to stay on at 83% inside the hysteresis band")
	}

	// 86% -> off.
	d, err = p.Decide(humiditySnap(86), committedState(true, nil, nil), now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.IsOn {
		t.Error("expected off at 86%")
	}
}

func TestThresholdOnAboveWithHysteresis(t *testing.T) {
	// Exhaust fan: on above 28°C, off once back at 26°C.
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindThreshold,
		Metric:     config.MetricTemperature,
		OnAbove:    floatPtr(28),
		Hysteresis: 2,
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	now := time.Now()
	snap := func(v float64) sensor.Snapshot {
		return sensor.Snapshot{Temperature: floatPtr(v), CapturedAt: now}
	}

	d, _ := p.Decide(snap(28.5), nil, now)
	if !d.IsOn {
		t.Error("expected on above threshold")
	}
	d, _ = p.Decide(snap(27), committedState(true, nil, nil), now)
	if !d.IsOn {
		t.Error("expected hold inside band while on")
	}
	d, _ = p.Decide(snap(27), committedState(false, nil, nil), now)
	if d.IsOn {
		t.Error("expected hold inside band while off")
	}
	d, _ = p.Decide(snap(26), committedState(true, nil, nil), now)
	if d.IsOn {
		t.Error("expected off once recrossed by hysteresis")
	}
}

// TestThresholdNeverChatters drives a metric oscillating within the
// hysteresis band and asserts the decision never flips.
func TestThresholdNeverChatters(t *testing.T) {
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindThreshold,
		Metric:     config.MetricHumidity,
		OnBelow:    floatPtr(80),
		Hysteresis: 5,
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	now := time.Now()
	last := committedState(false, nil, nil)

	// Turn on once.
	d, err := p.Decide(humiditySnap(79), last, now)
	if err != nil || !d.IsOn {
		t.Fatalf("expected on at 79%%, got %+v err=%v", d, err)
	}
	last = committedState(true, nil, nil)

	// Oscillate inside [80, 85): must stay on throughout.
	for _, v := range []float64{80.1, 84.9, 81, 83.3, 80.0, 84.99} {
		d, err := p.Decide(humiditySnap(v), last, now)
		if err != nil {
			t.Fatalf("Decide(%v) failed: %v", v, err)
		}
		if !d.IsOn {
			t.Fatalf("chatter: device turned off at %v inside the band", v)
		}
	}
}

func TestThresholdVariableSpeedLevels(t *testing.T) {
	// Fan at baseline 40, pushed to 100 when humidity passes 90%.
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindThreshold,
		Metric:     config.MetricHumidity,
		OnAbove:    floatPtr(90),
		Hysteresis: 3,
		OnLevel:    intPtr(100),
		OffLevel:   intPtr(40),
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	now := time.Now()

	// Below threshold: on at baseline level, not powered off.
	d, err := p.Decide(humiditySnap(70), nil, now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn || d.Level == nil || *d.Level != 40 {
		t.Errorf("expected baseline on at level 40, got %+v", d)
	}

	// Above threshold: max level.
	d, _ = p.Decide(humiditySnap(92), committedState(true, intPtr(40), nil), now)
	if !d.IsOn || d.Level == nil || *d.Level != 100 {
		t.Errorf("expected on at level 100, got %+v", d)
	}

	// In the band at max: hold max.
	d, _ = p.Decide(humiditySnap(88), committedState(true, intPtr(100), nil), now)
	if d.Level == nil || *d.Level != 100 {
		t.Errorf("expected hold at level 100 in band, got %+v", d)
	}

	// In the band at baseline: hold baseline.
	d, _ = p.Decide(humiditySnap(88), committedState(true, intPtr(40), nil), now)
	if d.Level == nil || *d.Level != 40 {
		t.Errorf("expected hold at level 40 in band, got %+v", d)
	}
}

func TestThresholdIndeterminate(t *testing.T) {
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindThreshold,
		Metric:     config.MetricHumidity,
		OnBelow:    floatPtr(80),
		Hysteresis: 5,
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	// Snapshot carries temperature only.
	snap := sensor.Snapshot{Temperature: floatPtr(24), CapturedAt: time.Now()}
	if _, err := p.Decide(snap, nil, time.Now()); !errors.Is(err, ErrIndeterminate) {
		t.Errorf("expected ErrIndeterminate, got %v", err)
	}
}

func TestTimeWindowDaytime(t *testing.T) {
	// Grow light: 06:00–18:00.
	p, err := FromConfig(config.PolicyConfig{
		Kind:    config.PolicyKindTimeWindow,
		OnTime:  "06:00",
		OffTime: "18:00",
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	tests := []struct {
		clock string
		want  bool
	}{
		{"05:59", false},
		{"06:00", true},
		{"12:00", true},
		{"17:59", true},
		{"18:00", false},
		{"23:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			now, err := time.Parse("15:04", tt.clock)
			if err != nil {
				t.Fatalf("bad clock: %v", err)
			}
			d, err := p.Decide(sensor.Snapshot{}, nil, now)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if d.IsOn != tt.want {
				t.Errorf("at %s want on=%v, got %v", tt.clock, tt.want, d.IsOn)
			}
		})
	}
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	p, err := FromConfig(config.PolicyConfig{
		Kind:    config.PolicyKindTimeWindow,
		OnTime:  "18:00",
		OffTime: "06:00",
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	tests := []struct {
		clock string
		want  bool
	}{
		{"17:59", false},
		{"18:00", true},
		{"23:59", true},
		{"00:00", true},
		{"05:59", true},
		{"06:00", false},
		{"12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			now, _ := time.Parse("15:04", tt.clock)
			d, err := p.Decide(sensor.Snapshot{}, nil, now)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if d.IsOn != tt.want {
				t.Errorf("at %s want on=%v, got %v", tt.clock, tt.want, d.IsOn)
			}
		})
	}
}

func TestFixedDurationRunLifecycle(t *testing.T) {
	// Mist burst: 30 seconds once humidity drops below 75%.
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindFixedDuration,
		RunSeconds: 30,
		Trigger: &config.TriggerConfig{
			Metric: config.MetricHumidity,
			Below:  floatPtr(75),
		},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Trigger fires while off.
	d, err := p.Decide(humiditySnap(70), nil, t0)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn || d.StartedAt == nil || !d.StartedAt.Equal(t0) {
		t.Fatalf("expected new run started at t0, got %+v", d)
	}

	running := committedState(true, nil, d.StartedAt)

	// Still running at +10s and +29s, regardless of the condition.
	for _, dt := range []time.Duration{10 * time.Second, 29 * time.Second} {
		d, err := p.Decide(humiditySnap(95), running, t0.Add(dt))
		if err != nil {
			t.Fatalf("Decide at +%s failed: %v", dt, err)
		}
		if !d.IsOn {
			t.Errorf("expected on at +%s", dt)
		}
		if d.StartedAt == nil || !d.StartedAt.Equal(t0) {
			t.Errorf("expected started_at preserved at +%s, got %v", dt, d.StartedAt)
		}
	}

	// Expires at exactly +30s, even with the condition still true.
	d, err = p.Decide(humiditySnap(70), running, t0.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Decide at expiry failed: %v", err)
	}
	if d.IsOn {
		t.Error("expected off at exactly run_seconds elapsed")
	}

	// After the off state is committed, the trigger may start a new run.
	t1 := t0.Add(31 * time.Second)
	d, err = p.Decide(humiditySnap(70), committedState(false, nil, nil), t1)
	if err != nil {
		t.Fatalf("Decide retrigger failed: %v", err)
	}
	if !d.IsOn || d.StartedAt == nil || !d.StartedAt.Equal(t1) {
		t.Errorf("expected new run started at t1, got %+v", d)
	}
}

func TestFixedDurationRunningIgnoresSensorFault(t *testing.T) {
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindFixedDuration,
		RunSeconds: 60,
		Trigger: &config.TriggerConfig{
			Metric: config.MetricHumidity,
			Below:  floatPtr(75),
		},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	running := committedState(true, nil, &t0)

	// Empty snapshot: a running device does not consult the trigger.
	d, err := p.Decide(sensor.Snapshot{}, running, t0.Add(20*time.Second))
	if err != nil {
		t.Fatalf("expected running device to ignore missing metric, got %v", err)
	}
	if !d.IsOn {
		t.Error("expected device to remain on")
	}

	// An off device with a missing trigger metric is indeterminate.
	_, err = p.Decide(sensor.Snapshot{}, nil, t0)
	if !errors.Is(err, ErrIndeterminate) {
		t.Errorf("expected ErrIndeterminate for off device, got %v", err)
	}
}

func TestFixedDurationManualOnWithoutStartEndsRun(t *testing.T) {
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindFixedDuration,
		RunSeconds: 30,
		Trigger: &config.TriggerConfig{
			Metric: config.MetricHumidity,
			Below:  floatPtr(80),
		},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	// A manual-on override commits is_on without a start time. There is
	// no run window to honour, so the decision is off even while the
	// trigger condition holds.
	manualOn := committedState(true, nil, nil)
	snap := sensor.Snapshot{Humidity: floatPtr(75)}

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d, err := p.Decide(snap, manualOn, now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.IsOn {
		t.Error("expected off decision for on state with no start time")
	}

	// Once the off state commits, the trigger starts a proper bounded
	// run with a recorded start time.
	off := committedState(false, nil, nil)
	d, err = p.Decide(snap, off, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn || d.StartedAt == nil {
		t.Errorf("expected new run with start time, got %+v", d)
	}
}

func TestFixedDurationTimeOfDayTrigger(t *testing.T) {
	// Morning mist cycle at 08:30.
	p, err := FromConfig(config.PolicyConfig{
		Kind:       config.PolicyKindFixedDuration,
		RunSeconds: 45,
		Trigger:    &config.TriggerConfig{At: "08:30"},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Before the trigger minute: off.
	d, err := p.Decide(sensor.Snapshot{}, nil, day.Add(8*time.Hour+29*time.Minute))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.IsOn {
		t.Error("expected off before the trigger minute")
	}

	// During the trigger minute: run starts. No metric needed.
	start := day.Add(8*time.Hour + 30*time.Minute)
	d, err = p.Decide(sensor.Snapshot{}, nil, start)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !d.IsOn || d.StartedAt == nil {
		t.Fatalf("expected run to start at 08:30, got %+v", d)
	}

	// Run expires after 45s even though the clock is still 08:30.
	running := committedState(true, nil, d.StartedAt)
	d, err = p.Decide(sensor.Snapshot{}, running, start.Add(45*time.Second))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.IsOn {
		t.Error("expected run to expire after 45s")
	}
}

func TestFromConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PolicyConfig
	}{
		{"unknown kind", config.PolicyConfig{Kind: "pid"}},
		{"empty kind", config.PolicyConfig{}},
		{
			"threshold both bounds",
			config.PolicyConfig{
				Kind:    config.PolicyKindThreshold,
				Metric:  config.MetricHumidity,
				OnAbove: floatPtr(1),
				OnBelow: floatPtr(2),
			},
		},
		{
			"threshold bad metric",
			config.PolicyConfig{
				Kind:    config.PolicyKindThreshold,
				Metric:  "pressure",
				OnAbove: floatPtr(1),
			},
		},
		{
			"time window equal bounds",
			config.PolicyConfig{
				Kind:    config.PolicyKindTimeWindow,
				OnTime:  "06:00",
				OffTime: "06:00",
			},
		},
		{
			"fixed duration no trigger",
			config.PolicyConfig{
				Kind:       config.PolicyKindFixedDuration,
				RunSeconds: 30,
			},
		},
		{
			"fixed duration zero run",
			config.PolicyConfig{
				Kind:    config.PolicyKindFixedDuration,
				Trigger: &config.TriggerConfig{At: "08:00"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromConfig(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
