// Package httpapi is the thin ancillary HTTP surface: claim submission,
// evidence upload, status/progress reads, and triggering evaluation.
// Handlers validate input and delegate straight into internal/orchestrator
// and the store; no business logic lives here.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/audit"
	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/errs"
	"github.com/nevilshah235/claimledger-sub000/internal/orchestrator"
	"github.com/nevilshah235/claimledger-sub000/internal/ports"
)

type submitClaimRequest struct {
	ClaimantAddress string `json:"claimant_address" validate:"required"`
	RequestedAmount string `json:"requested_amount" validate:"required"`
	Description     string `json:"description"`
}

// Server wires the HTTP surface to the store, the audit sink used for
// progress reads, and the orchestrator used to run the pipeline.
type Server struct {
	Store        ports.Store
	Audit        *audit.Sink
	Orchestrator *orchestrator.Orchestrator
	Validate     *validator.Validate
	Log          *logrus.Logger
}

// New builds a Server with a fresh validator instance.
func New(store ports.Store, sink *audit.Sink, orch *orchestrator.Orchestrator, log *logrus.Logger) *Server {
	return &Server{Store: store, Audit: sink, Orchestrator: orch, Validate: validator.New(), Log: log}
}

// Router builds the chi mux with the routes named by spec.md's §6
// ancillary surface: claim submission, evidence upload, status/progress,
// evaluate trigger, and reset.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))

	r.Post("/claims", s.handleSubmitClaim)
	r.Get("/claims/{id}", s.handleGetClaim)
	r.Get("/claims/{id}/status", s.handleGetStatus)
	r.Post("/claims/{id}/evidence", s.handleAddEvidence)
	r.Get("/claims/{id}/evidence/{eid}", s.handleGetEvidence)
	r.Post("/claims/{id}/evaluate", s.handleEvaluate)
	r.Post("/claims/{id}/reset", s.handleReset)

	return r
}

func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.Validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.RequestedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "requested_amount must be a decimal string")
		return
	}

	c := claim.Claim{
		ID:              uuid.NewString(),
		ClaimantAddress: req.ClaimantAddress,
		RequestedAmount: amount,
		Description:     req.Description,
		Status:          claim.StatusSubmitted,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.Store.CreateClaim(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create claim")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": c.ID, "status": string(c.Status)})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetClaim(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetClaim(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}

	evidence, err := s.Store.ListEvidence(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list evidence")
		return
	}

	status, err := s.Audit.Progress(r.Context(), id, expectedStages(evidence))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute progress")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              c.Status,
		"completed_stages":    status.CompletedStages,
		"pending_stages":      status.PendingStages,
		"progress_percentage": status.ProgressPercentage,
	})
}

// expectedStages narrows audit.PipelineStages to the stages this claim's
// evidence actually triggers: document/image only run when that evidence
// kind was uploaded, fraud and reasoning always run.
func expectedStages(evidence []claim.Evidence) []claim.StageTag {
	var hasDocument, hasImage bool
	for _, e := range evidence {
		switch e.Kind {
		case claim.EvidenceDocument:
			hasDocument = true
		case claim.EvidenceImage:
			hasImage = true
		}
	}

	expected := make([]claim.StageTag, 0, len(audit.PipelineStages))
	for _, tag := range audit.PipelineStages {
		switch tag {
		case claim.StageDocument:
			if !hasDocument {
				continue
			}
		case claim.StageImage:
			if !hasImage {
				continue
			}
		}
		expected = append(expected, tag)
	}
	return expected
}

func (s *Server) handleAddEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := claim.EvidenceKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be document or image")
		return
	}

	c, err := s.Store.GetClaim(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read evidence body")
		return
	}

	e := claim.Evidence{
		ID:       uuid.NewString(),
		ClaimID:  id,
		Kind:     kind,
		MIME:     r.Header.Get("Content-Type"),
		ByteSize: int64(len(data)),
	}
	if err := s.Store.AddEvidence(r.Context(), e, data); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store evidence")
		return
	}

	// Adding evidence to a claim waiting on it resumes the claim for
	// re-evaluation: back to SUBMITTED with the prior request cleared.
	if c.Status == claim.StatusAwaitingData {
		c.Status = claim.StatusSubmitted
		c.RequestedData = nil
		c.UpdatedAt = time.Now()
		if err := s.Store.CommitOutcome(r.Context(), c); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resume claim after evidence upload")
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "id")
	evidenceID := chi.URLParam(r, "eid")

	e, data, err := s.Store.GetEvidence(r.Context(), claimID, evidenceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "evidence not found")
		return
	}

	w.Header().Set("Content-Type", e.MIME)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.Orchestrator.Evaluate(r.Context(), id)
	if err != nil {
		writeError(w, evaluateStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// evaluateStatus maps Evaluate's classified errors to the status code that
// best describes them to a caller; anything unclassified falls back to 500.
func evaluateStatus(err error) int {
	switch {
	case errs.Is(err, errs.ClassPrecondition):
		return http.StatusConflict
	case errs.Is(err, errs.ClassCancelled):
		return http.StatusGatewayTimeout
	case errs.Is(err, errs.ClassStorageFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.Store.GetClaim(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}

	c.Status = claim.StatusSubmitted
	c.Verdict = nil
	c.Confidence = nil
	c.UpdatedAt = time.Now()
	if err := s.Store.CommitOutcome(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset claim")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(c.Status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
