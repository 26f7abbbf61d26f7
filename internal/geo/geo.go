// Package geo holds the pure distance and eligibility functions used to
// filter candidate runners (for a client) and candidate tasks (for a runner).
package geo

import (
	"math"

	"github.com/serani/backend/internal/models"
)

// DefaultMaxDistanceKm is the service radius applied when a caller does not
// override it.
const DefaultMaxDistanceKm = 6.0

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers. Degenerate input (either point nil, or any NaN component)
// returns +Inf so such entities sort out of every radius filter instead of
// crashing it or accidentally matching near (0, 0).
func HaversineKm(a, b *models.LatLng) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	if math.IsNaN(a.Latitude) || math.IsNaN(a.Longitude) || math.IsNaN(b.Latitude) || math.IsNaN(b.Longitude) {
		return math.Inf(1)
	}
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*math.Pi/180)*math.Cos(b.Latitude*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// FilterRunnersByRadius keeps runners within maxKm of origin.
func FilterRunnersByRadius(origin *models.LatLng, runners []*models.Runner, maxKm float64) []*models.Runner {
	var out []*models.Runner
	for _, r := range runners {
		if HaversineKm(origin, r.Coords()) <= maxKm {
			out = append(out, r)
		}
	}
	return out
}

// FilterTasksByRadius keeps tasks within maxKm of origin.
func FilterTasksByRadius(origin *models.LatLng, tasks []*models.Task, maxKm float64) []*models.Task {
	var out []*models.Task
	for _, t := range tasks {
		if HaversineKm(origin, t.Location.Coordinates) <= maxKm {
			out = append(out, t)
		}
	}
	return out
}

// FilterRunnersByCapability keeps runners whose declared skills or service
// categories intersect the requested categories. An empty request set is a
// no-op: a client with no declared preferences sees all nearby runners.
func FilterRunnersByCapability(runners []*models.Runner, categories []string) []*models.Runner {
	if len(categories) == 0 {
		return runners
	}
	want := tagSet(categories)
	var out []*models.Runner
	for _, r := range runners {
		if intersects(want, r.CapabilityTags()) {
			out = append(out, r)
		}
	}
	return out
}

// FilterTasksByCapability keeps tasks whose category matches one of the
// runner's declared skills. A runner with no declared skills sees all nearby
// tasks.
func FilterTasksByCapability(tasks []*models.Task, skills []string) []*models.Task {
	if len(skills) == 0 {
		return tasks
	}
	want := tagSet(skills)
	var out []*models.Task
	for _, t := range tasks {
		if want[t.Category] {
			out = append(out, t)
		}
	}
	return out
}

// EligibleRunners is the client-side candidate pipeline: radius filter, then
// capability filter. When the capability filter empties the set, the
// distance-only set is returned instead so the client still sees nearby
// runners rather than nothing.
func EligibleRunners(origin *models.LatLng, runners []*models.Runner, maxKm float64, preferred []string) []*models.Runner {
	near := FilterRunnersByRadius(origin, runners, maxKm)
	matched := FilterRunnersByCapability(near, preferred)
	if len(matched) == 0 {
		return near
	}
	return matched
}

// EligibleTasks is the runner-side candidate pipeline, symmetric with
// EligibleRunners.
func EligibleTasks(origin *models.LatLng, tasks []*models.Task, maxKm float64, skills []string) []*models.Task {
	near := FilterTasksByRadius(origin, tasks, maxKm)
	matched := FilterTasksByCapability(near, skills)
	if len(matched) == 0 {
		return near
	}
	return matched
}

func tagSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

func intersects(want map[string]bool, have []string) bool {
	for _, t := range have {
		if want[t] {
			return true
		}
	}
	return false
}
