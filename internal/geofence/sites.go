package geofence

import (
	"context"

	"github.com/thecodeguy777/jlr-dashboard/internal/db"
)

// LoadSites reads the active client sites from the remote store. Sites
// without a configured radius come back with RadiusM = 0 and pick up
// the evaluator's default.
func LoadSites(ctx context.Context, q db.Querier) ([]Site, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, location_lat, location_lng, COALESCE(geofence_radius, 0)
		FROM clients
		WHERE is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.RadiusM); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// LoadTaskBindings maps site ids to the driver's open deliveries so an
// entered transition can raise its arrival marker.
func LoadTaskBindings(ctx context.Context, q db.Querier, driverID string) (map[string]string, error) {
	rows, err := q.Query(ctx, `
		SELECT client_id, id
		FROM deliveries
		WHERE driver_id = $1 AND status NOT IN ('completed', 'cancelled')
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := map[string]string{}
	for rows.Next() {
		var siteID, taskID string
		if err := rows.Scan(&siteID, &taskID); err != nil {
			return nil, err
		}
		bindings[siteID] = taskID
	}
	return bindings, rows.Err()
}
