// Package api exposes the HTTP interface for the story map.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bookworm-labs/storyatlas/internal/cluster"
	"github.com/bookworm-labs/storyatlas/internal/store/postgres"
	"github.com/bookworm-labs/storyatlas/internal/story"
)

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds each request end to end.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the location and cluster stores.
type Server struct {
	router   chi.Router
	store    story.LocationStore
	clusters story.ClusterStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store story.LocationStore, clusters story.ClusterStore, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		store:    store,
		clusters: clusters,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/locations", s.getLocations)
		r.Get("/story/{story_id}", s.getStory)
		r.Get("/cluster/{cluster_id}", s.getCluster)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap store round-trip proves the database is reachable.
	if _, err := s.clusters.CountClusters(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type locationsResponse struct {
	Locations []story.MapLocation       `json:"locations"`
	Clusters  []cluster.ViewportCluster `json:"clusters"`
}

// getLocations serves the viewport query: locations inside the bounding
// box, clustered dynamically for the requested zoom level. Noise points
// come back as individual markers.
func (s *Server) getLocations(w http.ResponseWriter, r *http.Request) {
	q, err := parseViewportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	locations, err := s.store.LocationsInViewport(r.Context(), q)
	if err != nil {
		s.logger.Error("viewport query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	clusters, markers := cluster.ClusterViewport(locations, q.Zoom)
	resp := locationsResponse{
		Locations: markers,
		Clusters:  clusters,
	}
	if resp.Locations == nil {
		resp.Locations = []story.MapLocation{}
	}
	if resp.Clusters == nil {
		resp.Clusters = []cluster.ViewportCluster{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "story_id")
	detail, err := s.store.GetStory(r.Context(), storyID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("story %s not found", storyID))
		return
	}
	if err != nil {
		s.logger.Error("story lookup failed", zap.String("story_id", storyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	c, err := s.clusters.GetCluster(r.Context(), clusterID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("cluster %s not found", clusterID))
		return
	}
	if err != nil {
		s.logger.Error("cluster lookup failed", zap.String("cluster_id", clusterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, clusterResponse{
		ClusterID:  c.ID,
		CenterLat:  c.CenterLat,
		CenterLon:  c.CenterLon,
		ZoomLevel:  c.ZoomLevel,
		StoryIDs:   c.StoryIDs,
		Summary:    c.Summary,
		KeyThemes:  c.KeyThemes,
		StoryCount: c.StoryCount,
		DateRange:  c.DateRange,
	})
}

type clusterResponse struct {
	ClusterID  string   `json:"cluster_id"`
	CenterLat  float64  `json:"center_lat"`
	CenterLon  float64  `json:"center_lon"`
	ZoomLevel  int      `json:"zoom_level"`
	StoryIDs   []string `json:"story_ids"`
	Summary    string   `json:"summary"`
	KeyThemes  []string `json:"key_themes"`
	StoryCount int      `json:"story_count"`
	DateRange  string   `json:"date_range"`
}

func parseViewportQuery(r *http.Request) (story.ViewportQuery, error) {
	zoom, err := strconv.Atoi(r.URL.Query().Get("zoom"))
	if err != nil {
		return story.ViewportQuery{}, errors.New("zoom is required")
	}

	var q story.ViewportQuery
	q.Zoom = zoom
	bounds := []struct {
		name string
		dst  *float64
	}{
		{"sw_lat", &q.SWLat},
		{"sw_lon", &q.SWLon},
		{"ne_lat", &q.NELat},
		{"ne_lon", &q.NELon},
	}
	for _, b := range bounds {
		v, err := strconv.ParseFloat(r.URL.Query().Get(b.name), 64)
		if err != nil {
			return story.ViewportQuery{}, fmt.Errorf("%s is required", b.name)
		}
		*b.dst = v
	}
	return q, nil
}
