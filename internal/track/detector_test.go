package track

import (
	"testing"
	"time"
)

const metersPerLatDegree = 111195.0

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		AccuracyMaxM:       100,
		SpeedThresholdKmh:  15,
		TrafficMinKmh:      4,
		TrafficWindow:      5 * time.Minute,
		TrafficWindowDistM: 300,
		Cooldown:           5 * time.Minute,
		HistorySize:        60,
	}
}

// walk advances a latitude by the distance covered at speedKmh over step.
func walk(lat float64, speedKmh float64, step time.Duration) float64 {
	distM := speedKmh / 3.6 * step.Seconds()
	return lat + distM/metersPerLatDegree
}

func TestDetectorFirstSampleIsBaselineOnly(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	tr := d.Observe(Position{Latitude: 14.6, Longitude: 121.0, AccuracyM: 10, Timestamp: time.Now()})
	if tr != nil {
		t.Fatalf("baseline sample must not transition")
	}
	if d.State().CurrentSpeedKmh != 0 {
		t.Fatalf("no speed computation expected on the first sample")
	}
}

func TestDetectorSpeedThresholdStartsMovement(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	lat := 14.6

	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base})

	lat = walk(lat, 20, 30*time.Second)
	tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base.Add(30 * time.Second)})
	if tr == nil || tr.Direction != MovementStarted {
		t.Fatalf("expected movement_started on first qualifying sample, got %+v", tr)
	}
	if tr.Trigger != "speed" {
		t.Fatalf("unexpected trigger: %s", tr.Trigger)
	}
	if tr.SpeedKmh < 18 || tr.SpeedKmh > 22 {
		t.Fatalf("unexpected speed: %v", tr.SpeedKmh)
	}
	if !d.State().IsMoving {
		t.Fatalf("state must be moving")
	}
}

func TestDetectorCooldownStopsMovement(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	lat := 14.6

	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base})
	lat = walk(lat, 20, 30*time.Second)
	now := base.Add(30 * time.Second)
	if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr == nil {
		t.Fatalf("expected start")
	}

	// Crawl at 2 km/h: below the floor, but no stop before the cool-down.
	for i := 0; i < 10; i++ {
		lat = walk(lat, 2, 30*time.Second)
		now = now.Add(30 * time.Second)
		if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr != nil {
			t.Fatalf("stop fired %v into the cool-down", now.Sub(base))
		}
	}

	// The next slow sample sits a full cool-down after the first one.
	lat = walk(lat, 2, 30*time.Second)
	now = now.Add(30 * time.Second)
	tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now})
	if tr == nil || tr.Direction != MovementStopped {
		t.Fatalf("expected movement_stopped after cool-down, got %+v", tr)
	}
	if tr.Duration < 5*time.Minute {
		t.Fatalf("stop duration shorter than the cool-down: %v", tr.Duration)
	}
	if d.State().IsMoving {
		t.Fatalf("state must be idle")
	}
}

func TestDetectorBriefSlowdownDoesNotStop(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	lat := 14.6

	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base})
	lat = walk(lat, 20, 30*time.Second)
	now := base.Add(30 * time.Second)
	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now})

	// Stoplight: two slow samples, then back up to speed.
	for i := 0; i < 2; i++ {
		lat = walk(lat, 1, 30*time.Second)
		now = now.Add(30 * time.Second)
		if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr != nil {
			t.Fatalf("unexpected transition at stoplight: %+v", tr)
		}
	}
	lat = walk(lat, 20, 30*time.Second)
	now = now.Add(30 * time.Second)
	if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr != nil {
		t.Fatalf("unexpected transition after stoplight: %+v", tr)
	}

	// The earlier dip must not count toward a later cool-down.
	for i := 0; i < 9; i++ {
		lat = walk(lat, 2, 30*time.Second)
		now = now.Add(30 * time.Second)
		if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr != nil {
			t.Fatalf("cool-down not restarted after recovery")
		}
	}
}

func TestDetectorSustainedSlowMovement(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	lat := 14.6
	now := base

	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now})

	// Crawl at 8 km/h: under the 15 km/h instant threshold, but five
	// minutes of it covers ~667 m, well past the window distance.
	var started *Transition
	for i := 0; i < 10; i++ {
		lat = walk(lat, 8, 30*time.Second)
		now = now.Add(30 * time.Second)
		if tr := d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: now}); tr != nil {
			started = tr
			if now.Sub(base) < 5*time.Minute {
				t.Fatalf("sustained path fired before the window filled: %v", now.Sub(base))
			}
			break
		}
	}
	if started == nil || started.Direction != MovementStarted {
		t.Fatalf("expected sustained movement_started, got %+v", started)
	}
	if started.Trigger != "sustained" {
		t.Fatalf("unexpected trigger: %s", started.Trigger)
	}
	if started.DistanceM < 300 {
		t.Fatalf("window distance not carried in metadata: %v", started.DistanceM)
	}
}

func TestDetectorSkipsBadAccuracyTick(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	d.Observe(Position{Latitude: 14.6, Longitude: 121.0, AccuracyM: 10, Timestamp: base})
	before := d.HistoryLen()

	tr := d.Observe(Position{Latitude: 14.7, Longitude: 121.0, AccuracyM: 250, Timestamp: base.Add(30 * time.Second)})
	if tr != nil {
		t.Fatalf("bad-accuracy tick must not transition")
	}
	if d.HistoryLen() != before {
		t.Fatalf("bad-accuracy tick must not touch history")
	}
	if d.State().LastPosition.Latitude != 14.6 {
		t.Fatalf("bad-accuracy tick must not move the baseline")
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(testDetectorConfig(), nil)
	base := time.Now()
	lat := 14.6
	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base})
	lat = walk(lat, 20, 30*time.Second)
	d.Observe(Position{Latitude: lat, Longitude: 121.0, AccuracyM: 10, Timestamp: base.Add(30 * time.Second)})

	d.Reset()
	if d.State().IsMoving || d.State().LastPosition != nil || d.HistoryLen() != 0 {
		t.Fatalf("reset must clear all derived state")
	}
}
