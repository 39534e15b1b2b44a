package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/experiment"
	"github.com/inference-sim/inference-scheduler/scheduler"
	"github.com/inference-sim/inference-scheduler/scheduler/trace"
)

// maxBodyBytes caps request bodies on every JSON endpoint.
const maxBodyBytes = 1 << 20

type server struct {
	stack    *stack
	gatherer prometheus.Gatherer
}

type allocateRequest struct {
	Variant           string `json:"variant"`
	MemoryRequiredMB  *int   `json:"memory_required_mb,omitempty"`
	PreferAccelerator *int   `json:"prefer_accelerator,omitempty"`
}

type allocateResponse struct {
	Variant     string `json:"variant"`
	Accelerator int    `json:"accelerator"`
}

// createExperimentRequest is the POST /v1/experiments body. Duration is a Go
// duration string such as "90m".
type createExperimentRequest struct {
	Key              string                   `json:"key"`
	Model            string                   `json:"model"`
	Description      string                   `json:"description,omitempty"`
	ControlVariant   int                      `json:"control_variant"`
	TreatmentVariant int                      `json:"treatment_variant"`
	TrafficSplit     float64                  `json:"traffic_split"`
	Strategy         experiment.SplitStrategy `json:"strategy,omitempty"`
	SuccessMetric    string                   `json:"success_metric,omitempty"`
	Duration         string                   `json:"duration,omitempty"`
	MinSampleSize    int                      `json:"min_sample_size,omitempty"`
	ConfidenceLevel  float64                  `json:"confidence_level,omitempty"`
}

func (req createExperimentRequest) toExperiment() (experiment.Experiment, error) {
	e := experiment.Experiment{
		Key:              req.Key,
		Model:            req.Model,
		Description:      req.Description,
		ControlVariant:   req.ControlVariant,
		TreatmentVariant: req.TreatmentVariant,
		TrafficSplit:     req.TrafficSplit,
		Strategy:         req.Strategy,
		SuccessMetric:    req.SuccessMetric,
		MinSampleSize:    req.MinSampleSize,
		ConfidenceLevel:  req.ConfidenceLevel,
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return experiment.Experiment{}, fmt.Errorf("%w: duration: %v", experiment.ErrInvalidExperiment, err)
		}
		e.Duration = d
	}
	return e, nil
}

type routeRequest struct {
	Identity *string `json:"identity,omitempty"`
}

type sampleRequest struct {
	Variant     experiment.Variant `json:"variant"`
	MetricValue *float64           `json:"metric_value,omitempty"`
	LatencyMS   *float64           `json:"latency_ms,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

type splitRequest struct {
	TrafficSplit float64 `json:"traffic_split"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (srv *server) routes() http.Handler {
	mux := http.NewServeMux()
	if srv.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /v1/cluster", srv.handleCluster)
	mux.HandleFunc("GET /v1/health", srv.handleHealth)
	mux.HandleFunc("POST /v1/rebalance", srv.handleRebalance)
	mux.HandleFunc("GET /v1/placements", srv.handlePlacements)
	mux.HandleFunc("POST /v1/allocations", srv.handleAllocate)
	mux.HandleFunc("DELETE /v1/allocations/{variant}", srv.handleDeallocate)
	mux.HandleFunc("GET /v1/trace/summary", srv.handleTraceSummary)

	mux.HandleFunc("GET /v1/experiments", srv.handleListExperiments)
	mux.HandleFunc("POST /v1/experiments", srv.handleCreateExperiment)
	mux.HandleFunc("GET /v1/experiments/{key}", srv.handleGetExperiment)
	mux.HandleFunc("POST /v1/experiments/{key}/start", srv.transition(srv.stack.registry.Start))
	mux.HandleFunc("POST /v1/experiments/{key}/pause", srv.transition(srv.stack.registry.Pause))
	mux.HandleFunc("POST /v1/experiments/{key}/complete", srv.transition(srv.stack.registry.Complete))
	mux.HandleFunc("POST /v1/experiments/{key}/archive", srv.transition(srv.stack.registry.Archive))
	mux.HandleFunc("PUT /v1/experiments/{key}/split", srv.handleUpdateSplit)
	mux.HandleFunc("POST /v1/experiments/{key}/route", srv.handleRoute)
	mux.HandleFunc("POST /v1/experiments/{key}/samples", srv.handleRecord)
	mux.HandleFunc("GET /v1/experiments/{key}/analysis", srv.handleAnalysis)
	mux.HandleFunc("GET /v1/experiments/{key}/latency", srv.handleLatency)
	return mux
}

func (srv *server) handleCluster(w http.ResponseWriter, r *http.Request) {
	util, err := srv.stack.engine.ClusterUtilization(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, util)
}

func (srv *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := srv.stack.controller.CheckHealth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (srv *server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	report, err := srv.stack.controller.Rebalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (srv *server) handlePlacements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, srv.stack.engine.Placements())
}

func (srv *server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := srv.stack.engine.Allocate(r.Context(), req.Variant, req.MemoryRequiredMB, req.PreferAccelerator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse{Variant: req.Variant, Accelerator: id})
}

func (srv *server) handleDeallocate(w http.ResponseWriter, r *http.Request) {
	if !srv.stack.engine.Deallocate(r.PathValue("variant")) {
		writeError(w, fmt.Errorf("%q: %w", r.PathValue("variant"), scheduler.ErrNotPlaced))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *server) handleTraceSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, trace.Summarize(srv.stack.trace))
}

func (srv *server) handleListExperiments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, srv.stack.registry.List())
}

func (srv *server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := req.toExperiment()
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := srv.stack.registry.Create(e)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (srv *server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := srv.stack.registry.Get(r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (srv *server) transition(op func(string) (experiment.Experiment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := op(r.PathValue("key"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func (srv *server) handleUpdateSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := srv.stack.registry.UpdateSplit(r.PathValue("key"), req.TrafficSplit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (srv *server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, srv.stack.router.Route(r.PathValue("key"), req.Identity))
}

func (srv *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := srv.stack.ledger.Record(r.PathValue("key"), req.Variant, req.MetricValue, req.LatencyMS, req.Metadata); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (srv *server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	result, err := srv.stack.analyzer.Analyze(key)
	srv.stack.metrics.ObserveAnalysis(key, result, err)
	var pending *experiment.InsufficientDataError
	switch {
	case errors.As(err, &pending):
		writeJSON(w, http.StatusAccepted, pending)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (srv *server) handleLatency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.stack.analyzer.LatencyComparison(r.PathValue("key")))
}

// decodeBody decodes a JSON request body into dst, answering 400 on failure.
// An empty body leaves dst at its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrNoCapacity),
		errors.Is(err, experiment.ErrExperimentExists),
		errors.Is(err, experiment.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrNotPlaced),
		errors.Is(err, experiment.ErrExperimentNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidVariant),
		errors.Is(err, experiment.ErrInvalidExperiment),
		errors.Is(err, experiment.ErrEmptyExperimentKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("writing response: %v", err)
	}
}
