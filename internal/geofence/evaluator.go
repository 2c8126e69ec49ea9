package geofence

import (
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/shared/geo"
)

// Evaluator tracks per-site membership for one driver and emits an
// event only when a boundary is actually crossed, so a site produces
// exactly one entered and one exited event per physical visit no
// matter how often positions arrive.
type Evaluator struct {
	driverID      string
	defaultRadius float64
	sites         []Site
	inside        map[string]bool
}

func NewEvaluator(driverID string, defaultRadiusM float64) *Evaluator {
	return &Evaluator{
		driverID:      driverID,
		defaultRadius: defaultRadiusM,
		inside:        map[string]bool{},
	}
}

// SetSites replaces the site list. Membership for sites that survive
// the refresh is kept so a mid-visit refresh does not re-fire an
// entered event; membership for removed sites is dropped.
func (e *Evaluator) SetSites(sites []Site) {
	kept := make(map[string]bool, len(sites))
	for i := range sites {
		if sites[i].RadiusM <= 0 {
			sites[i].RadiusM = e.defaultRadius
		}
		if e.inside[sites[i].ID] {
			kept[sites[i].ID] = true
		}
	}
	e.sites = sites
	e.inside = kept
}

func (e *Evaluator) Sites() []Site {
	out := make([]Site, len(e.sites))
	copy(out, e.sites)
	return out
}

func (e *Evaluator) Inside(siteID string) bool {
	return e.inside[siteID]
}

// Evaluate compares the position against every site and returns one
// event per site whose membership flipped.
func (e *Evaluator) Evaluate(lat, lng float64, at time.Time) []Event {
	var events []Event
	for _, site := range e.sites {
		dist := geo.DistanceM(lat, lng, site.Latitude, site.Longitude)
		inside := dist <= site.RadiusM
		if inside == e.inside[site.ID] {
			continue
		}
		e.inside[site.ID] = inside

		transition := TransitionExited
		if inside {
			transition = TransitionEntered
		}
		events = append(events, Event{
			ID:        uuid.NewString(),
			DriverID:  e.driverID,
			SiteID:    site.ID,
			SiteName:  site.Name,
			EventType: transition,
			Latitude:  lat,
			Longitude: lng,
			DistanceM: dist,
			Timestamp: at.UTC(),
		})
	}
	return events
}

// Reset clears all membership, used at session teardown.
func (e *Evaluator) Reset() {
	e.inside = map[string]bool{}
}
