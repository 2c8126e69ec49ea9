package track

import (
	"log/slog"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/shared/geo"
)

// DetectorConfig tunes the idle/moving state machine.
type DetectorConfig struct {
	AccuracyMaxM       float64
	SpeedThresholdKmh  float64
	TrafficMinKmh      float64
	TrafficWindow      time.Duration
	TrafficWindowDistM float64
	Cooldown           time.Duration
	HistorySize        int
}

type observation struct {
	pos      Position
	speedKmh float64
	distM    float64
}

// Detector derives a motion state from accepted positions. A fast sample
// flips idle to moving immediately; slow-but-sustained movement (stop-and-go
// traffic) is promoted through a rolling window; a stop only registers after
// the speed stays below the floor for the whole cool-down.
type Detector struct {
	cfg    DetectorConfig
	logger *slog.Logger

	state      State
	history    []observation
	belowSince time.Time
	movedM     float64
}

func NewDetector(cfg DetectorConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 2
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Observe feeds one accepted position into the state machine and returns a
// transition if the motion state flipped, nil otherwise.
func (d *Detector) Observe(p Position) *Transition {
	if p.AccuracyM > d.cfg.AccuracyMaxM {
		// Skipped tick: no state change, no history entry.
		return nil
	}

	if d.state.LastPosition == nil {
		d.state.LastPosition = &p
		d.state.LastSampleTime = p.Timestamp
		d.push(observation{pos: p})
		return nil
	}

	prev := *d.state.LastPosition
	distM := geo.DistanceM(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
	speed := geo.SpeedKmh(distM, p.Timestamp.Sub(prev.Timestamp))

	d.state.LastPosition = &p
	d.state.LastSampleTime = p.Timestamp
	d.state.CurrentSpeedKmh = speed
	d.push(observation{pos: p, speedKmh: speed, distM: distM})

	if d.state.IsMoving {
		d.movedM += distM
		return d.observeMoving(p, speed)
	}
	return d.observeIdle(p, speed)
}

func (d *Detector) observeIdle(p Position, speed float64) *Transition {
	if speed > d.cfg.SpeedThresholdKmh {
		return d.startMoving(p, speed, "speed")
	}
	if ok, windowDist := d.sustainedSlowMovement(p.Timestamp); ok {
		t := d.startMoving(p, speed, "sustained")
		t.DistanceM = windowDist
		return t
	}
	return nil
}

func (d *Detector) observeMoving(p Position, speed float64) *Transition {
	if speed >= d.cfg.TrafficMinKmh {
		d.belowSince = time.Time{}
		return nil
	}
	if d.belowSince.IsZero() {
		d.belowSince = p.Timestamp
		return nil
	}
	if p.Timestamp.Sub(d.belowSince) < d.cfg.Cooldown {
		return nil
	}

	t := &Transition{
		Direction: MovementStopped,
		At:        p.Timestamp,
		SpeedKmh:  speed,
		Duration:  p.Timestamp.Sub(d.state.MovementStartedAt),
		DistanceM: d.movedM,
		Trigger:   "cooldown",
	}
	d.state.IsMoving = false
	d.state.MovementStartedAt = time.Time{}
	d.belowSince = time.Time{}
	d.movedM = 0
	d.logger.Info("movement stopped", "duration", t.Duration, "distance_m", t.DistanceM)
	return t
}

func (d *Detector) startMoving(p Position, speed float64, trigger string) *Transition {
	d.state.IsMoving = true
	d.state.MovementStartedAt = p.Timestamp
	d.belowSince = time.Time{}
	d.movedM = 0
	d.logger.Info("movement started", "speed_kmh", speed, "trigger", trigger)
	return &Transition{
		Direction: MovementStarted,
		At:        p.Timestamp,
		SpeedKmh:  speed,
		Trigger:   trigger,
	}
}

// sustainedSlowMovement reports whether the rolling window shows real but
// slow travel: enough elapsed coverage, average speed between the traffic
// floor and the instant threshold, and enough ground covered.
func (d *Detector) sustainedSlowMovement(now time.Time) (bool, float64) {
	cutoff := now.Add(-d.cfg.TrafficWindow)

	var (
		count    int
		sumSpeed float64
		distM    float64
		oldest   time.Time
	)
	for _, o := range d.history {
		if o.pos.Timestamp.Before(cutoff) {
			continue
		}
		if oldest.IsZero() || o.pos.Timestamp.Before(oldest) {
			oldest = o.pos.Timestamp
		}
		count++
		sumSpeed += o.speedKmh
		distM += o.distM
	}
	if count < 2 {
		return false, 0
	}
	// Demand near-full window coverage so a handful of fresh samples
	// cannot fake five minutes of crawling.
	if now.Sub(oldest) < d.cfg.TrafficWindow-time.Second {
		return false, 0
	}

	avg := sumSpeed / float64(count)
	if avg < d.cfg.TrafficMinKmh || avg > d.cfg.SpeedThresholdKmh {
		return false, 0
	}
	if distM <= d.cfg.TrafficWindowDistM {
		return false, 0
	}
	return true, distM
}

func (d *Detector) push(o observation) {
	d.history = append(d.history, o)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
}

// State returns a snapshot of the current track state.
func (d *Detector) State() State {
	s := d.state
	if d.state.LastPosition != nil {
		p := *d.state.LastPosition
		s.LastPosition = &p
	}
	return s
}

// HistoryLen reports how many samples the bounded history holds.
func (d *Detector) HistoryLen() int { return len(d.history) }

// Reset clears all derived state when a tracking session ends.
func (d *Detector) Reset() {
	d.state = State{}
	d.history = nil
	d.belowSince = time.Time{}
	d.movedM = 0
}
