package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunGroupsDensePointsAndMarksNoise(t *testing.T) {
	t.Parallel()

	points := []Point{
		{37.3318, -122.0312},
		{37.3319, -122.0313},
		{37.3320, -122.0311},
		// Far away, alone.
		{40.7128, -74.0060},
	}
	labels := Run(points, Params{Eps: 0.001, MinSamples: 3, Metric: EuclideanDegrees})

	require.Equal(t, labels[0], labels[1])
	require.Equal(t, labels[0], labels[2])
	require.NotEqual(t, Noise, labels[0])
	require.Equal(t, Noise, labels[3])
}

func TestRunBelowMinSamplesIsAllNoise(t *testing.T) {
	t.Parallel()

	points := []Point{{0, 0}, {0.0001, 0.0001}}
	labels := Run(points, Params{Eps: 0.001, MinSamples: 3, Metric: EuclideanDegrees})
	require.Equal(t, []int{Noise, Noise}, labels)
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	points := []Point{
		{10, 10}, {10.001, 10.001}, {10.002, 10.002},
		{20, 20}, {20.001, 20.001}, {20.002, 20.002},
	}
	p := Params{Eps: 0.01, MinSamples: 2, Metric: EuclideanDegrees}
	first := Run(points, p)
	second := Run(points, p)
	require.Equal(t, first, second)
	require.NotEqual(t, first[0], first[3])
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	t.Parallel()

	// Cupertino to downtown San Jose, roughly 13 km.
	d := HaversineMeters(Point{37.3229, -122.0322}, Point{37.3382, -121.8863})
	require.InDelta(t, 13000, d, 500)

	require.Zero(t, HaversineMeters(Point{37, -122}, Point{37, -122}))
}
