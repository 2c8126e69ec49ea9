package track

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/thecodeguy777/jlr-dashboard/internal/shared/geo"
)

var (
	ErrLowAccuracy  = errors.New("accuracy above threshold")
	ErrSpeedJump    = errors.New("implied speed above threshold")
	ErrDistanceJump = errors.New("straight-line jump above threshold")
)

// FilterConfig bounds what the filter will accept.
type FilterConfig struct {
	AccuracyMaxM    float64
	MaxSpeedKmh     float64
	MaxJumpM        float64
	SmoothingWindow int
}

// Filter validates raw samples and smooths accepted ones against a short
// rolling buffer. Rejections are logged, never forwarded.
type Filter struct {
	cfg    FilterConfig
	logger *slog.Logger

	last   *Position
	buffer []Position
}

func NewFilter(cfg FilterConfig, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SmoothingWindow < 1 {
		cfg.SmoothingWindow = 1
	}
	return &Filter{cfg: cfg, logger: logger}
}

// Accept validates the sample against accuracy and plausibility bounds.
// On success it returns the sample blended with recent accepted samples,
// weighted by 1/accuracy. The returned error is one of the sentinel
// rejection errors above.
func (f *Filter) Accept(p Position) (Position, error) {
	if p.AccuracyM > f.cfg.AccuracyMaxM {
		f.logger.Debug("sample rejected", "reason", "low_accuracy", "accuracy_m", p.AccuracyM)
		return Position{}, fmt.Errorf("%w: %.0fm", ErrLowAccuracy, p.AccuracyM)
	}

	if f.last != nil {
		dist := geo.DistanceM(f.last.Latitude, f.last.Longitude, p.Latitude, p.Longitude)
		elapsed := p.Timestamp.Sub(f.last.Timestamp)
		speed := geo.SpeedKmh(dist, elapsed)

		// Multipath and spoofing show up as teleports: either the jump
		// itself or the speed it implies is beyond anything a vehicle does.
		if dist > f.cfg.MaxJumpM {
			f.logger.Warn("sample rejected", "reason", "distance_jump", "distance_m", dist)
			return Position{}, fmt.Errorf("%w: %.0fm", ErrDistanceJump, dist)
		}
		if elapsed > 0 && speed > f.cfg.MaxSpeedKmh {
			f.logger.Warn("sample rejected", "reason", "speed_jump", "speed_kmh", speed)
			return Position{}, fmt.Errorf("%w: %.0fkm/h", ErrSpeedJump, speed)
		}
	}

	if p.AccuracyM < 1 {
		// Real GPS never reports sub-meter accuracy; likely a mock
		// location provider. Accepted, but worth a trace.
		f.logger.Warn("suspiciously perfect accuracy", "accuracy_m", p.AccuracyM,
			"lat", p.Latitude, "lng", p.Longitude)
	}

	f.last = &p
	f.buffer = append(f.buffer, p)
	if len(f.buffer) > f.cfg.SmoothingWindow {
		f.buffer = f.buffer[len(f.buffer)-f.cfg.SmoothingWindow:]
	}

	return f.blend(p), nil
}

// Last returns the most recent accepted raw sample, if any.
func (f *Filter) Last() *Position {
	if f.last == nil {
		return nil
	}
	p := *f.last
	return &p
}

func (f *Filter) Reset() {
	f.last = nil
	f.buffer = nil
}

func (f *Filter) blend(p Position) Position {
	if len(f.buffer) < 2 {
		return p
	}

	var lat, lng, weight float64
	for _, s := range f.buffer {
		acc := s.AccuracyM
		if acc < 1 {
			acc = 1
		}
		w := 1 / acc
		lat += s.Latitude * w
		lng += s.Longitude * w
		weight += w
	}

	out := p
	out.Latitude = lat / weight
	out.Longitude = lng / weight
	return out
}
