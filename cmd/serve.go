package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-group/aoi-extract/internal/aoi"
	"github.com/atlas-group/aoi-extract/internal/model"
	"github.com/atlas-group/aoi-extract/internal/pipeline"
	"github.com/atlas-group/aoi-extract/internal/sources"
	"github.com/atlas-group/aoi-extract/internal/store"
)

var servePort int

// extractFunc runs an extraction for one request; injected so handler tests
// can stub the pipeline.
type extractFunc func(ctx context.Context, area *aoi.AOI, layers []model.LayerID) (*pipeline.Result, error)

// api holds the HTTP handler dependencies.
type api struct {
	st       store.Store
	registry *sources.Registry
	extract  extractFunc

	// baseCtx outlives individual requests; background extractions run
	// under it so they survive the request connection closing.
	baseCtx context.Context
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for extraction requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		adapters, registry, err := buildAdapters()
		if err != nil {
			return err
		}

		a := &api{
			st:       st,
			registry: registry,
			baseCtx:  ctx,
			extract: func(ctx context.Context, area *aoi.AOI, layers []model.LayerID) (*pipeline.Result, error) {
				session := pipeline.NewSession(area, adapters, registry, pipeline.Config{})
				return session.Run(ctx, layers)
			},
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: a.router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/layers", a.handleLayers)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", a.handleCreateRun)
		r.Get("/", a.handleListRuns)
		r.Get("/{id}", a.handleGetRun)
	})

	return r
}

// layerInfo is the /layers response entry.
type layerInfo struct {
	ID     model.LayerID        `json:"id"`
	Kind   string               `json:"kind"`
	Family model.GeometryFamily `json:"family"`
	Fields []string             `json:"fields"`
}

func (a *api) handleLayers(w http.ResponseWriter, r *http.Request) {
	infos := make([]layerInfo, 0, len(model.AllLayers()))
	for _, layer := range model.AllLayers() {
		spec, _ := a.registry.Spec(layer)
		names := make([]string, 0, len(spec.Fields))
		for _, f := range spec.Fields {
			names = append(names, f.Name)
		}
		infos = append(infos, layerInfo{ID: layer, Kind: spec.Kind, Family: layer.Family(), Fields: names})
	}
	writeJSON(w, http.StatusOK, infos)
}

// extractRequest is the POST /runs body. The AOI comes as either a bounding
// box or an inline GeoJSON geometry.
type extractRequest struct {
	BBox    []float64       `json:"bbox,omitempty"`
	GeoJSON json.RawMessage `json:"geojson,omitempty"`
	Layers  []string        `json:"layers,omitempty"`
	Format  string          `json:"format,omitempty"`
}

func (a *api) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	area, err := a.requestAOI(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	layers, err := parseLayers(req.Layers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := req.Format
	if format == "" {
		format = "geojson"
	}

	b := area.Bound()
	run, err := a.st.CreateRun(r.Context(), [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		area.ApproxAreaKm2(), layers, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record run")
		return
	}

	go a.runExtraction(run.ID, area, layers)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(model.RunStatusRunning),
	})
}

// runExtraction executes the pipeline in the background and records the
// outcome on the stored run.
func (a *api) runExtraction(runID string, area *aoi.AOI, layers []model.LayerID) {
	ctx := a.baseCtx

	result, err := a.extract(ctx, area, layers)
	if err != nil {
		zap.L().Error("extraction failed",
			zap.String("run_id", runID),
			zap.Error(err))
		if uerr := a.st.UpdateRunStatus(ctx, runID, model.RunStatusFailed); uerr != nil {
			zap.L().Warn("failed to mark run failed", zap.String("run_id", runID), zap.Error(uerr))
		}
		return
	}

	for _, layer := range result.Layers {
		if _, err := a.st.SaveLayerFeatures(ctx, runID, layer); err != nil {
			zap.L().Error("failed to save layer features",
				zap.String("run_id", runID),
				zap.String("layer", string(layer.ID)),
				zap.Error(err))
		}
	}

	if err := a.st.CompleteRun(ctx, runID, runResult(result)); err != nil {
		zap.L().Error("failed to complete run", zap.String("run_id", runID), zap.Error(err))
		return
	}

	zap.L().Info("extraction complete",
		zap.String("run_id", runID),
		zap.Int("features", result.TotalFeatures))
}

func (a *api) requestAOI(req extractRequest) (*aoi.AOI, error) {
	switch {
	case len(req.BBox) > 0 && len(req.GeoJSON) > 0:
		return nil, eris.New("use either bbox or geojson, not both")
	case len(req.BBox) == 4:
		return parseBBox(fmt.Sprintf("%v,%v,%v,%v", req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3]))
	case len(req.BBox) > 0:
		return nil, eris.New("bbox must have exactly four components")
	case len(req.GeoJSON) > 0:
		return aoi.FromGeoJSON(req.GeoJSON)
	default:
		return nil, eris.New("an area of interest is required: bbox or geojson")
	}
}

func (a *api) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := a.st.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Layer:  model.LayerID(q.Get("layer")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.st.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
