package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/pkg/cache"
	"github.com/c360/rulegate/rulecache"
	"github.com/c360/rulegate/triage"
	"github.com/c360/rulegate/validation"
)

// validateRequest is the body for both validation endpoints.
type validateRequest struct {
	Content  string `json:"content"`
	Platform string `json:"platform"`
}

func (s *Server) handleValidate(mode validation.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if !s.decode(w, r, &req) {
			return
		}

		result, err := s.validator.Validate(r.Context(), req.Content, req.Platform, mode)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// cacheDumpResponse wraps the diagnostic cache dump with statistics.
type cacheDumpResponse struct {
	Entries []rulecache.Entry[validation.Result] `json:"entries"`
	Count   int                                  `json:"count"`
	Stats   cache.Summary                        `json:"stats"`
}

func (s *Server) handleCacheDump(w http.ResponseWriter, r *http.Request) {
	entries := s.cache.Dump()
	writeJSON(w, http.StatusOK, cacheDumpResponse{
		Entries: entries,
		Count:   len(entries),
		Stats:   s.cache.Stats(),
	})
}

type profileScoreRequest struct {
	Summary string `json:"summary"`
}

type profileScoreResponse struct {
	ProfileFit float64 `json:"profile_fit_score"`
}

func (s *Server) handleProfileScore(w http.ResponseWriter, r *http.Request) {
	var req profileScoreRequest
	if !s.decode(w, r, &req) {
		return
	}

	fit, err := s.scorer.ProfileFit(r.Context(), req.Summary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileScoreResponse{ProfileFit: fit})
}

type noveltyCheckRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type noveltyCheckResponse struct {
	Novelty float64 `json:"novelty_score"`
}

func (s *Server) handleNoveltyCheck(w http.ResponseWriter, r *http.Request) {
	var req noveltyCheckRequest
	if !s.decode(w, r, &req) {
		return
	}

	novelty, err := s.scorer.NoveltyScore(r.Context(), req.Title, req.Summary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, noveltyCheckResponse{Novelty: novelty})
}

// suggestionResponse reports the triage outcome. ID is set only for
// promoted items.
type suggestionResponse struct {
	ID       string        `json:"id,omitempty"`
	Status   string        `json:"status"`
	Decision string        `json:"decision"`
	Scores   triage.Scores `json:"scores"`
}

func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		s.writeError(w, r, errors.WrapInvalid(
			errors.ErrMissingIdempotencyKey, "server", "handleSuggestion", "check request"))
		return
	}

	var item triage.Item
	if !s.decode(w, r, &item) {
		return
	}

	// Replays short-circuit before scoring: the original item is in
	// the novelty index by now and would reject itself.
	if existing, ok := s.promoter.Lookup(idempotencyKey); ok {
		writeJSON(w, http.StatusOK, suggestionResponse{
			ID:       existing.ID,
			Status:   existing.Status,
			Decision: string(triage.Promote),
		})
		return
	}

	scores, err := s.scorer.Score(r.Context(), item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	decision := triage.Decide(scores, s.thresholds)
	if s.metrics != nil {
		s.metrics.RecordTriageDecision(string(decision))
	}
	if decision == triage.Reject {
		writeJSON(w, http.StatusOK, suggestionResponse{
			Status:   "rejected",
			Decision: string(decision),
			Scores:   scores,
		})
		return
	}

	result, err := s.promoter.Promote(r.Context(), item, scores, idempotencyKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Status == triage.StatusDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, suggestionResponse{
		ID:       result.ID,
		Status:   result.Status,
		Decision: string(decision),
		Scores:   scores,
	})
}

// decode reads a size-limited JSON body into dst, answering the error
// response itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			writeErrorBody(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeErrorBody(w, http.StatusUnprocessableEntity, "malformed request body")
		return false
	}
	return true
}

// writeError maps a service error to its HTTP status and a sanitized
// message. The full error is logged; internals never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordError("server", errors.Classify(err).String())
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeErrorBody(w, status, messageFor(err))
}

// statusFor maps the error taxonomy to HTTP status codes: malformed
// requests 422, policy rejects 400, malformed store responses 500,
// unavailable dependencies 503.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrMissingIdempotencyKey),
		stderrors.Is(err, errors.ErrPolicyValidation):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrStoreResponse):
		return http.StatusInternalServerError
	case errors.IsInvalid(err):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, errors.ErrDependencyUnavailable),
		errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-safe message for an error.
func messageFor(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrMissingContent):
		return "content is required"
	case stderrors.Is(err, errors.ErrMissingPlatform):
		return "platform is required"
	case stderrors.Is(err, errors.ErrUnknownMode):
		return "unknown validation mode"
	case stderrors.Is(err, errors.ErrMissingIdempotencyKey):
		return "Idempotency-Key header is required"
	case stderrors.Is(err, errors.ErrPolicyValidation):
		return "policy update rejected"
	case stderrors.Is(err, errors.ErrStoreResponse):
		return "rule store returned an invalid response"
	case stderrors.Is(err, errors.ErrDependencyUnavailable):
		return "service temporarily unavailable"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorBody(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
