package cluster

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// degreesFor converts a north-south distance in meters to latitude
// degrees on the sphere used by HaversineMeters.
func degreesFor(meters float64) float64 {
	return meters / (earthRadiusMeters * (3.141592653589793 / 180))
}

type fakeLocStore struct {
	story.LocationStore

	resolved []story.ResolvedLocation
	nearest  string
}

func (f *fakeLocStore) ListResolved(context.Context) ([]story.ResolvedLocation, error) {
	return f.resolved, nil
}

func (f *fakeLocStore) NearestPlaceName(context.Context, float64, float64) (string, error) {
	return f.nearest, nil
}

type fakeClusterStore struct {
	existing int
	upserts  []story.Cluster
}

func (f *fakeClusterStore) UpsertCluster(_ context.Context, c story.Cluster) error {
	f.upserts = append(f.upserts, c)
	return nil
}

func (f *fakeClusterStore) CountClusters(context.Context) (int, error) { return f.existing, nil }

func (f *fakeClusterStore) GetCluster(context.Context, string) (story.Cluster, error) {
	return story.Cluster{}, errors.New("not found")
}

type fakeSummarizer struct {
	story.LanguageModel

	err   error
	calls int
}

func (f *fakeSummarizer) SummarizeCluster(_ context.Context, stories []string, name string, _ int) (story.ClusterSummary, error) {
	f.calls++
	if f.err != nil {
		return story.ClusterSummary{}, f.err
	}
	return story.ClusterSummary{
		Summary:    fmt.Sprintf("%d stories near %s", len(stories), name),
		KeyThemes:  []string{"testing"},
		DateRange:  "1980-1984",
		StoryCount: len(stories),
	}, nil
}

// tripletAt returns three address-precision stories at one coordinate,
// enough to seed a DBSCAN cluster with the default density floor.
func tripletAt(prefix string, lat, lon float64, precision story.Precision) []story.ResolvedLocation {
	out := make([]story.ResolvedLocation, 3)
	for i := range out {
		out[i] = story.ResolvedLocation{
			StoryID:    fmt.Sprintf("%s_%d", prefix, i),
			PlaceName:  prefix,
			Lat:        lat,
			Lon:        lon,
			Precision:  precision,
			Title:      "title " + prefix,
			ParsedDate: "1980",
		}
	}
	return out
}

func newEngine(st *fakeLocStore, cs *fakeClusterStore, llm *fakeSummarizer) *Engine {
	return NewEngine(st, cs, llm, zap.NewNop(), Config{})
}

func TestBuildMergesClustersWithinThreshold(t *testing.T) {
	near := degreesFor(4900)
	st := &fakeLocStore{resolved: append(
		tripletAt("a", 37.0, -122.0, story.PrecisionAddress),
		tripletAt("b", 37.0+near, -122.0, story.PrecisionAddress)...,
	)}
	e := newEngine(st, &fakeClusterStore{}, &fakeSummarizer{})

	candidates, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1, "4.9km apart should merge")
	require.Len(t, candidates[0].Locations, 6)
}

func TestBuildKeepsClustersBeyondThreshold(t *testing.T) {
	far := degreesFor(5100)
	st := &fakeLocStore{resolved: append(
		tripletAt("a", 37.0, -122.0, story.PrecisionAddress),
		tripletAt("b", 37.0+far, -122.0, story.PrecisionAddress)...,
	)}
	e := newEngine(st, &fakeClusterStore{}, &fakeSummarizer{})

	candidates, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2, "5.1km apart must stay separate")
}

func TestBuildMergesCityClusterIntoAddressCluster(t *testing.T) {
	near := degreesFor(3000)
	st := &fakeLocStore{resolved: append(
		tripletAt("addr", 37.0, -122.0, story.PrecisionAddress),
		tripletAt("city", 37.0+near, -122.0, story.PrecisionCity)...,
	)}
	e := newEngine(st, &fakeClusterStore{}, &fakeSummarizer{})

	candidates, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, zoomAddress, candidates[0].ZoomLevel)
	require.Len(t, candidates[0].Locations, 6)
	// Centroid recomputed over all members sits between the two groups.
	require.InDelta(t, 37.0+near/2, candidates[0].CenterLat, 1e-6)
}

func TestBuildDeduplicatesStories(t *testing.T) {
	dup := tripletAt("a", 37.0, -122.0, story.PrecisionAddress)
	// Second location for the same story must not count twice.
	dup = append(dup, story.ResolvedLocation{
		StoryID: "a_0", Lat: 37.0, Lon: -122.0, Precision: story.PrecisionAddress,
	})
	st := &fakeLocStore{resolved: dup}
	e := newEngine(st, &fakeClusterStore{}, &fakeSummarizer{})

	candidates, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Len(t, candidates[0].Locations, 3)
}

func TestSaveClusterIDIsDeterministic(t *testing.T) {
	cs := &fakeClusterStore{}
	e := newEngine(&fakeLocStore{}, cs, &fakeSummarizer{})

	locs := tripletAt("a", 37.0, -122.0, story.PrecisionAddress)
	summary := story.ClusterSummary{Summary: "s", StoryCount: 3}

	first, err := e.Save(context.Background(), Candidate{Locations: locs}, summary)
	require.NoError(t, err)

	// Same members in reverse order produce the same ID.
	reversed := []story.ResolvedLocation{locs[2], locs[0], locs[1]}
	second, err := e.Save(context.Background(), Candidate{Locations: reversed}, summary)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Regexp(t, `^cluster_[0-9a-f]{16}$`, first)
}

func TestSummarizeFallsBackOnModelError(t *testing.T) {
	llm := &fakeSummarizer{err: errors.New("model unavailable")}
	st := &fakeLocStore{nearest: "1 Infinite Loop, Cupertino, CA"}
	e := newEngine(st, &fakeClusterStore{}, llm)

	locs := tripletAt("a", 37.0, -122.0, story.PrecisionAddress)
	locs[1].ParsedDate = "1984"
	sum := e.Summarize(context.Background(), Candidate{Locations: locs, ZoomLevel: zoomAddress})

	require.Equal(t, 3, sum.StoryCount)
	require.Equal(t, "1980-1984", sum.DateRange)
	require.Contains(t, sum.Summary, "Cupertino, CA")
}

func TestGenerateRefusesWithoutForceWhenClustersExist(t *testing.T) {
	cs := &fakeClusterStore{existing: 4}
	e := newEngine(&fakeLocStore{}, cs, &fakeSummarizer{})

	_, err := e.Generate(context.Background(), false)
	require.ErrorIs(t, err, ErrClustersExist)
	require.Empty(t, cs.upserts)
}

func TestGeneratePersistsSummarizedClusters(t *testing.T) {
	far := degreesFor(8000)
	st := &fakeLocStore{
		resolved: append(
			tripletAt("a", 37.0, -122.0, story.PrecisionAddress),
			tripletAt("b", 37.0+far, -122.0, story.PrecisionCity)...,
		),
		nearest: "Cupertino, CA",
	}
	cs := &fakeClusterStore{existing: 2}
	llm := &fakeSummarizer{}
	e := newEngine(st, cs, llm)

	report, err := e.Generate(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 2, report.Clusters)
	require.Len(t, cs.upserts, 2)
	require.Equal(t, 2, llm.calls)
	for _, c := range cs.upserts {
		require.Len(t, c.StoryIDs, 3)
		require.NotEmpty(t, c.Summary)
	}
}
