// Package cluster groups resolved story locations spatially, both as a
// batch engine producing persisted, summarized clusters and as a
// query-time pass shaping viewport responses.
package cluster

import "math"

const earthRadiusMeters = 6371000

// Point is a lat/lon coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Metric measures the distance between two points. The unit must match
// the epsilon handed to Run.
type Metric func(a, b Point) float64

// EuclideanDegrees treats lat/lon as a flat plane. Adequate for small
// epsilons at mid-latitudes where 1 degree is roughly 111 km.
func EuclideanDegrees(a, b Point) float64 {
	dlat := a.Lat - b.Lat
	dlon := a.Lon - b.Lon
	return math.Sqrt(dlat*dlat + dlon*dlon)
}

// HaversineRadians returns the central angle between two points, i.e.
// great-circle distance divided by the earth radius.
func HaversineRadians(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * math.Asin(math.Sqrt(h))
}

// HaversineMeters returns the great-circle distance in meters.
func HaversineMeters(a, b Point) float64 {
	return HaversineRadians(a, b) * earthRadiusMeters
}

// Params configures one DBSCAN run.
type Params struct {
	// Eps is the neighborhood radius in the metric's unit.
	Eps float64
	// MinSamples is the minimum neighborhood size (including the point
	// itself) for a point to be a core point.
	MinSamples int
	Metric     Metric
}

// Noise is the label assigned to points belonging to no cluster.
const Noise = -1

// Run labels each point with a cluster index, or Noise. Labels are
// assigned in discovery order, so identical input yields identical
// labeling.
func Run(points []Point, p Params) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}

	visited := make([]bool, len(points))
	next := 0

	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, p)
		if len(neighbors) < p.MinSamples {
			continue
		}

		labels[i] = next
		// Expand the cluster through density-reachable points.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if !visited[j] {
				visited[j] = true
				more := regionQuery(points, j, p)
				if len(more) >= p.MinSamples {
					neighbors = append(neighbors, more...)
				}
			}
			if labels[j] == Noise {
				labels[j] = next
			}
		}
		next++
	}
	return labels
}

func regionQuery(points []Point, i int, p Params) []int {
	var neighbors []int
	for j := range points {
		if p.Metric(points[i], points[j]) <= p.Eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
