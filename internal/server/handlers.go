package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/stats"
	"github.com/tuneloop/tuneloop/internal/store"
)

type HealthResponse struct {
	Status            string   `json:"status"`
	ActiveExperiments int      `json:"active_experiments"`
	PendingProposals  int      `json:"pending_proposals"`
	HealthScore       *float64 `json:"health_score,omitempty"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	active, err := s.store.CountActiveExperiments(ctx)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	pending, err := s.store.ListProposals(ctx, store.ProposalPending)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := HealthResponse{
		Status:            "ok",
		ActiveExperiments: active,
		PendingProposals:  len(pending),
		UptimeSeconds:     int64(time.Since(s.startTime).Seconds()),
	}

	// Last scored snapshot, if any. Absence is not an error.
	if snaps, err := s.store.ListSnapshots(ctx, store.PeriodDaily, 1); err == nil && len(snaps) > 0 {
		response.HealthScore = snaps[0].HealthScore
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ObservationRequest is an incoming variant observation from the
// publishing pipeline.
type ObservationRequest struct {
	VariantID int64  `json:"v"`
	EventType string `json:"e"`
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers for all responses
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// Handle preflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.VariantID <= 0 {
		http.Error(w, "Missing variant id", http.StatusBadRequest)
		return
	}
	event := store.EventType(req.EventType)
	if !store.ValidEvent(event) {
		http.Error(w, "Invalid event type", http.StatusBadRequest)
		return
	}

	if err := s.engine.RecordObservation(r.Context(), req.VariantID, event); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Variant not found", http.StatusBadRequest)
			return
		}
		s.log.Error("failed to record observation",
			zap.Int64("variant", req.VariantID), zap.Error(err))
		http.Error(w, "Failed to record observation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExperimentsAPI returns experiments with per-variant rates and
// Wilson confidence intervals.
func (s *Server) handleExperimentsAPI(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	status := store.ExperimentStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = store.ExperimentActive
	}

	experiments, err := s.store.ListExperiments(ctx, status)
	if err != nil {
		http.Error(w, "Failed to fetch experiments", http.StatusInternalServerError)
		return
	}

	type apiVariant struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		IsControl   bool    `json:"is_control"`
		Impressions int64   `json:"impressions"`
		Successes   int64   `json:"successes"`
		Rate        float64 `json:"rate"`
		CILower     float64 `json:"ci_lower"`
		CIUpper     float64 `json:"ci_upper"`
	}

	type apiExperiment struct {
		ID             int64        `json:"id"`
		Name           string       `json:"name"`
		Variable       string       `json:"variable"`
		Metric         string       `json:"metric"`
		Status         string       `json:"status"`
		Winner         *int64       `json:"winner,omitempty"`
		Confidence     float64      `json:"confidence"`
		ImprovementPct float64      `json:"improvement_pct"`
		StartedAt      string       `json:"started_at"`
		Variants       []apiVariant `json:"variants"`
	}

	response := make([]apiExperiment, 0, len(experiments))
	for _, exp := range experiments {
		variants, err := s.store.ListVariants(ctx, exp.ID)
		if err != nil {
			http.Error(w, "Failed to fetch variants", http.StatusInternalServerError)
			return
		}

		apiVariants := make([]apiVariant, len(variants))
		for i, v := range variants {
			lower, upper := stats.WilsonInterval(v.Successes(exp.Metric), v.Impressions, 0.95)
			apiVariants[i] = apiVariant{
				ID:          v.ID,
				Name:        v.Name,
				IsControl:   v.IsControl,
				Impressions: v.Impressions,
				Successes:   v.Successes(exp.Metric),
				Rate:        v.Rate(exp.Metric),
				CILower:     lower,
				CIUpper:     upper,
			}
		}

		response = append(response, apiExperiment{
			ID:             exp.ID,
			Name:           exp.Name,
			Variable:       exp.Variable,
			Metric:         string(exp.Metric),
			Status:         string(exp.Status),
			Winner:         exp.WinningVariantID,
			Confidence:     exp.ConfidenceLevel,
			ImprovementPct: exp.ImprovementPct,
			StartedAt:      exp.StartedAt.UTC().Format(time.RFC3339),
			Variants:       apiVariants,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"experiments": response})
}

func (s *Server) handleProposalsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, err := s.coord.PendingProposals(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch proposals", http.StatusInternalServerError)
		return
	}

	type apiProposal struct {
		ID          string  `json:"id"`
		Source      string  `json:"source"`
		Category    string  `json:"category"`
		Parameter   string  `json:"parameter"`
		Description string  `json:"description"`
		Change      string  `json:"change"`
		ImpactScore float64 `json:"impact_score"`
		Confidence  float64 `json:"confidence"`
		CreatedAt   string  `json:"created_at"`
	}

	response := make([]apiProposal, len(pending))
	for i, p := range pending {
		response[i] = apiProposal{
			ID:          p.ID,
			Source:      p.Source,
			Category:    p.Category,
			Parameter:   p.Parameter,
			Description: p.Description,
			Change:      p.Adjustment.String(),
			ImpactScore: p.ImpactScore,
			Confidence:  p.Confidence,
			CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"proposals": response})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.coord.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.coord.Reject)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(context.Context, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		http.Error(w, "Missing proposal id", http.StatusBadRequest)
		return
	}

	if err := decide(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Proposal not found", http.StatusNotFound)
			return
		}
		s.log.Error("proposal decision failed", zap.String("proposal", id), zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	http.Redirect(w, r, "/review", http.StatusSeeOther)
}
