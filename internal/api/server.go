// Package api serves the projected clouds over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/radarcloud/internal/db"
	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/network"
	"github.com/banshee-data/radarcloud/internal/pipeline"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/render"
	"github.com/banshee-data/radarcloud/internal/security"
	"github.com/banshee-data/radarcloud/internal/units"
	"github.com/banshee-data/radarcloud/internal/version"
	"github.com/banshee-data/radarcloud/internal/wire"
)

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

// Projector is the part of the pipeline the server reads and feeds.
type Projector interface {
	wire.Handler
	ProjectBatch(ctx context.Context, b radar.Batch) (radar.Cloud, error)
	Config() pipeline.Config
	Latest() (radar.Cloud, bool)
	LatestBatch() (radar.Batch, bool)
	Stats() pipeline.Stats
}

// CloudStore lists and loads stored clouds. *db.DB satisfies it.
type CloudStore interface {
	RecentClouds(ctx context.Context, limit int) ([]db.CloudSummary, error)
	CloudByID(ctx context.Context, id string) (db.StoredCloud, error)
}

// Config configures a Server.
type Config struct {
	// Units is the default speed unit for responses.
	Units string
	// Store is optional; without it the stored cloud routes answer 503.
	Store CloudStore
	// Sources adds named counters, such as transport stats, to /api/stats.
	Sources map[string]func() interface{}
	// AssetsHost is passed to the echarts renderer.
	AssetsHost string
	// PCAPDir and Replay enable POST /api/replay. Only captures inside
	// PCAPDir can be replayed.
	PCAPDir string
	Replay  ReplayFunc
}

// ReplayFunc replays the capture at path into the pipeline.
type ReplayFunc func(ctx context.Context, path string, speed float64) (network.ReplayStats, error)

type Server struct {
	p   Projector
	cfg Config
}

func NewServer(p Projector, cfg Config) *Server {
	if cfg.Units == "" {
		cfg.Units = units.MPS
	}
	return &Server{p: p, cfg: cfg}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cloud/latest", s.showLatestCloud)
	mux.HandleFunc("/api/cloud/chart", s.showCloudChart)
	mux.HandleFunc("/api/cloud/plot.png", s.showCloudPlot)
	mux.HandleFunc("/api/clouds", s.listClouds)
	mux.HandleFunc("/api/clouds/{id}", s.showCloud)
	mux.HandleFunc("/api/batches", s.postBatch)
	mux.HandleFunc("/api/ego_velocity", s.postEgoVelocity)
	mux.HandleFunc("/api/transforms", s.postTransform)
	mux.HandleFunc("/api/replay", s.postReplay)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// unitsFor returns the units requested by r, or the server default.
func (s *Server) unitsFor(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.cfg.Units, nil
	}
	return units.Parse(u)
}

// convertCloud returns a copy of c with speeds in the given units.
func convertCloud(c radar.Cloud, unit string) radar.Cloud {
	if unit == units.MPS {
		return c
	}
	pts := make([]radar.OutputPoint, len(c.Points))
	for i, p := range c.Points {
		p.Speed = units.ConvertSpeed(p.Speed, unit)
		pts[i] = p
	}
	c.Points = pts
	return c
}

type cloudResponse struct {
	radar.Cloud
	Units string `json:"units"`
	Raw   bool   `json:"raw,omitempty"`
}

// latestCloud returns the cloud for a "latest" request. raw=1 selects the
// last input batch converted without filtering or compensation; adding
// range=1 keeps only targets inside the configured range window,
// re-numbered from zero.
func (s *Server) latestCloud(r *http.Request) (radar.Cloud, bool, bool) {
	q := r.URL.Query()
	if raw, _ := strconv.ParseBool(q.Get("raw")); raw {
		b, ok := s.p.LatestBatch()
		if !ok {
			return radar.Cloud{}, true, false
		}
		if ranged, _ := strconv.ParseBool(q.Get("range")); ranged {
			b = radar.FilterRange(b, s.p.Config().Options.Range)
		}
		return radar.ToCloud(b), true, true
	}
	c, ok := s.p.Latest()
	return c, false, ok
}

func (s *Server) showLatestCloud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, raw, ok := s.latestCloud(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no cloud yet")
		return
	}
	writeJSON(w, http.StatusOK, cloudResponse{Cloud: convertCloud(c, unit), Units: unit, Raw: raw})
}

func (s *Server) showCloudChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, _, ok := s.latestCloud(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no cloud yet")
		return
	}

	var buf bytes.Buffer
	if err := render.ScatterHTML(&buf, c, render.ChartOptions{Units: unit, AssetsHost: s.cfg.AssetsHost}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showCloudPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, _, ok := s.latestCloud(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no cloud yet")
		return
	}

	var buf bytes.Buffer
	if err := render.PlotPNG(&buf, c, render.PlotOptions{Units: unit}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) listClouds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.cfg.Store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cloud storage is disabled")
		return
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxListLimit {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'limit' parameter: must be 1-%d", maxListLimit))
			return
		}
		limit = n
	}

	clouds, err := s.cfg.Store.RecentClouds(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list clouds: %v", err))
		return
	}
	if clouds == nil {
		clouds = []db.CloudSummary{}
	}
	writeJSON(w, http.StatusOK, clouds)
}

func (s *Server) showCloud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.cfg.Store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cloud storage is disabled")
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.cfg.Store.CloudByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load cloud: %v", err))
		return
	}
	stored.Points = convertCloud(stored.Cloud(), unit).Points
	writeJSON(w, http.StatusOK, struct {
		db.StoredCloud
		Units string `json:"units"`
	}{stored, unit})
}

// decodeMessage reads a single wire message from the body. A missing type
// defaults to want; any other type is rejected.
func decodeMessage(w http.ResponseWriter, r *http.Request, want string) (wire.Message, error) {
	body, err := readBody(w, r)
	if err != nil {
		return wire.Message{}, err
	}
	var m wire.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return wire.Message{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if m.Type == "" {
		m.Type = want
	}
	if m.Type != want {
		return wire.Message{}, fmt.Errorf("expected a %q message, got %q", want, m.Type)
	}
	return m, nil
}

func (s *Server) postBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := decodeMessage(w, r, wire.TypeTargets)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := m.Batch()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.p.ProjectBatch(r.Context(), b)
	switch {
	case errors.Is(err, frames.ErrNoTransform), errors.Is(err, frames.ErrTransformTimeout):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cloudResponse{Cloud: convertCloud(c, unit), Units: unit})
}

func (s *Server) postEgoVelocity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	unit, err := s.unitsFor(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := decodeMessage(w, r, wire.TypeEgoVelocity)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := m.EgoVelocity()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v.Linear = radar.Vec3{
		X: units.ConvertToMPS(v.Linear.X, unit),
		Y: units.ConvertToMPS(v.Linear.Y, unit),
		Z: units.ConvertToMPS(v.Linear.Z, unit),
	}
	s.p.HandleEgoVelocity(v)
	writeJSON(w, http.StatusAccepted, v)
}

func (s *Server) postTransform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	m, err := decodeMessage(w, r, wire.TypeTransform)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tf, err := m.Transform()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.p.HandleTransform(tf); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pipeline.ErrNoTransformStore) {
			status = http.StatusConflict
		}
		writeJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"parent": tf.Parent, "child": tf.Child})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	out := map[string]interface{}{"pipeline": s.p.Stats()}
	for name, f := range s.cfg.Sources {
		out[name] = f()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"units":       s.cfg.Units,
		"valid_units": units.ValidUnits,
		"version":     version.Get(),
		"replay":      s.cfg.Replay != nil && s.cfg.PCAPDir != "",
	})
}

type replayRequest struct {
	PCAPFile string  `json:"pcap_file"`
	Speed    float64 `json:"speed"`
}

type replayResponse struct {
	File      string  `json:"file"`
	Packets   int     `json:"packets"`
	Datagrams int     `json:"datagrams"`
	Errors    int     `json:"errors"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// postReplay replays a capture from the configured directory and answers
// once it has been fed through. Speed 0 replays as fast as possible.
func (s *Server) postReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.cfg.Replay == nil || s.cfg.PCAPDir == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "capture replay is disabled")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req replayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Speed < 0 {
		writeJSONError(w, http.StatusBadRequest, "speed must not be negative")
		return
	}

	path, err := security.ResolveCapture(s.cfg.PCAPDir, req.PCAPFile)
	switch {
	case errors.Is(err, security.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, security.ErrOutsideDir):
		writeJSONError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.cfg.Replay(r.Context(), path, req.Speed)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("replay failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, replayResponse{
		File:      req.PCAPFile,
		Packets:   stats.Packets,
		Datagrams: stats.Datagrams,
		Errors:    stats.Errors,
		ElapsedMS: float64(stats.Elapsed) / float64(time.Millisecond),
	})
}
